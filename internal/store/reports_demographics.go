package store

import (
	"context"
	"fmt"
)

// demographicsFrom 组装人口统计查询的 FROM/WHERE 片段。
// 带时间过滤时经 cases 做 INNER JOIN 并按个案更新时间过滤，
// 计数统一用 COUNT(DISTINCT p.person_id) 抵消 JOIN 带来的行膨胀。
func demographicsFrom(f ReportFilter) (string, string, []any) {
	from := ` FROM people p`
	where := ` WHERE 1=1`
	var args []any
	if f.empty() {
		return from, where, args
	}
	from = ` FROM people p INNER JOIN cases c ON p.person_id = c.person_id`
	if f.StartDate != "" {
		where += ` AND c.case_updated_at >= ?`
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		where += ` AND c.case_updated_at <= ?`
		args = append(args, f.EndDate)
	}
	return from, where, args
}

// AgeBrackets 按年龄段分组计数，缺失出生日期归入 Unknown。
func (s *Store) AgeBrackets(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	age := exprAgeYears(s.dialect, "p.date_of_birth")
	from, where, args := demographicsFrom(f)
	query := `
		SELECT age_group, COUNT(DISTINCT person_id)
		FROM (
			SELECT p.person_id AS person_id,
				CASE
					WHEN p.date_of_birth IS NULL OR p.date_of_birth = '' THEN 'Unknown'
					WHEN ` + age + ` < 18 THEN '0-17'
					WHEN ` + age + ` < 25 THEN '18-24'
					WHEN ` + age + ` < 35 THEN '25-34'
					WHEN ` + age + ` < 45 THEN '35-44'
					WHEN ` + age + ` < 55 THEN '45-54'
					WHEN ` + age + ` < 65 THEN '55-64'
					ELSE '65+'
				END AS age_group` + from + where + `
		) t
		GROUP BY age_group
		ORDER BY CASE age_group
			WHEN '0-17' THEN 1
			WHEN '18-24' THEN 2
			WHEN '25-34' THEN 3
			WHEN '35-44' THEN 4
			WHEN '45-54' THEN 5
			WHEN '55-64' THEN 6
			WHEN '65+' THEN 7
			ELSE 8
		END`
	return s.queryLabelCounts(ctx, query, args)
}

// GenderCounts 按性别分组计数，空值归入 Not Specified。
func (s *Store) GenderCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	from, where, args := demographicsFrom(f)
	query := `
		SELECT COALESCE(p.gender, 'Not Specified'), COUNT(DISTINCT p.person_id)` + from + where + `
		GROUP BY COALESCE(p.gender, 'Not Specified')
		ORDER BY COUNT(DISTINCT p.person_id) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// RaceCounts 按种族分组计数，排除 undisclosed 与空串，NULL 归入 Not Specified。
func (s *Store) RaceCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	from, where, args := demographicsFrom(f)
	query := `
		SELECT COALESCE(p.race, 'Not Specified'), COUNT(DISTINCT p.person_id)` + from + where + `
		AND (p.race IS NULL OR p.race NOT IN ('undisclosed', ''))
		GROUP BY COALESCE(p.race, 'Not Specified')
		ORDER BY COUNT(DISTINCT p.person_id) DESC ` + limitClause(s.dialect)
	args = append(args, 10)
	return s.queryLabelCounts(ctx, query, args)
}

// HouseholdCompositions 按家庭人数与成人/儿童拆分分组，取最常见的前十类。
func (s *Store) HouseholdCompositions(ctx context.Context, f ReportFilter) ([]HouseholdComposition, error) {
	from, where, args := demographicsFrom(f)
	query := `
		SELECT p.household_size,
			COALESCE(p.adults_in_household, 0),
			COALESCE(p.children_in_household, 0),
			COUNT(DISTINCT p.person_id)` + from + where + `
		AND p.household_size IS NOT NULL
		GROUP BY p.household_size, COALESCE(p.adults_in_household, 0), COALESCE(p.children_in_household, 0)
		ORDER BY COUNT(DISTINCT p.person_id) DESC ` + limitClause(s.dialect)
	args = append(args, 10)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询家庭构成失败: %w", err)
	}
	defer rows.Close()
	var out []HouseholdComposition
	for rows.Next() {
		var h HouseholdComposition
		if err := rows.Scan(&h.HouseholdSize, &h.Adults, &h.Children, &h.Count); err != nil {
			return nil, fmt.Errorf("读取家庭构成失败: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AdultsChildrenScatter 返回成人数×儿童数的分布点。
func (s *Store) AdultsChildrenScatter(ctx context.Context, f ReportFilter) ([]ScatterPoint, error) {
	from, where, args := demographicsFrom(f)
	query := `
		SELECT p.adults_in_household, p.children_in_household, COUNT(DISTINCT p.person_id)` + from + where + `
		AND p.adults_in_household IS NOT NULL AND p.children_in_household IS NOT NULL
		GROUP BY p.adults_in_household, p.children_in_household
		ORDER BY p.adults_in_household, p.children_in_household`

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询成人儿童分布失败: %w", err)
	}
	defer rows.Close()
	var out []ScatterPoint
	for rows.Next() {
		var pt ScatterPoint
		if err := rows.Scan(&pt.X, &pt.Y, &pt.Count); err != nil {
			return nil, fmt.Errorf("读取成人儿童分布失败: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// IncomeBrackets 按月收入区间分组计数。
func (s *Store) IncomeBrackets(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	from, where, args := demographicsFrom(f)
	query := `
		SELECT income_bracket, COUNT(DISTINCT person_id)
		FROM (
			SELECT p.person_id AS person_id,
				CASE
					WHEN p.gross_monthly_income IS NULL OR p.gross_monthly_income <= 0 THEN 'No Income'
					WHEN p.gross_monthly_income < 1000 THEN 'Under $1,000'
					WHEN p.gross_monthly_income < 2000 THEN '$1,000-$1,999'
					WHEN p.gross_monthly_income < 3000 THEN '$2,000-$2,999'
					WHEN p.gross_monthly_income < 5000 THEN '$3,000-$4,999'
					ELSE '$5,000+'
				END AS income_bracket` + from + where + `
		) t
		GROUP BY income_bracket
		ORDER BY CASE income_bracket
			WHEN 'No Income' THEN 0
			WHEN 'Under $1,000' THEN 1
			WHEN '$1,000-$1,999' THEN 2
			WHEN '$2,000-$2,999' THEN 3
			WHEN '$3,000-$4,999' THEN 4
			ELSE 5
		END`
	return s.queryLabelCounts(ctx, query, args)
}

// InsuranceCoverage 按医保登记情况分组计数。
func (s *Store) InsuranceCoverage(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	from, where, args := demographicsFrom(f)
	query := `
		SELECT coverage, COUNT(DISTINCT person_id)
		FROM (
			SELECT p.person_id AS person_id,
				CASE
					WHEN p.medicaid_id IS NOT NULL AND p.medicaid_id != ''
						AND p.medicare_id IS NOT NULL AND p.medicare_id != '' THEN 'Both Medicaid & Medicare'
					WHEN p.medicaid_id IS NOT NULL AND p.medicaid_id != '' THEN 'Medicaid Only'
					WHEN p.medicare_id IS NOT NULL AND p.medicare_id != '' THEN 'Medicare Only'
					ELSE 'No Insurance Recorded'
				END AS coverage` + from + where + `
		) t
		GROUP BY coverage
		ORDER BY COUNT(DISTINCT person_id) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// CommunicationPreferences 按首选联系方式分组计数，空值归入 Not Specified。
func (s *Store) CommunicationPreferences(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	return s.textPreferenceCounts(ctx, "p.preferred_communication_method", f)
}

// MaritalStatusCounts 按婚姻状况分组计数，空值归入 Not Specified。
func (s *Store) MaritalStatusCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	return s.textPreferenceCounts(ctx, "p.marital_status", f)
}

func (s *Store) textPreferenceCounts(ctx context.Context, col string, f ReportFilter) ([]LabelCount, error) {
	from, where, args := demographicsFrom(f)
	label := `CASE WHEN ` + col + ` IS NULL OR ` + col + ` = '' THEN 'Not Specified' ELSE ` + col + ` END`
	query := `
		SELECT ` + label + `, COUNT(DISTINCT p.person_id)` + from + where + `
		GROUP BY ` + label + `
		ORDER BY COUNT(DISTINCT p.person_id) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// LanguageCounts 按语言分组计数，取前 15 种。
func (s *Store) LanguageCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	from, where, args := demographicsFrom(f)
	query := `
		SELECT p.languages, COUNT(DISTINCT p.person_id)` + from + where + `
		AND p.languages IS NOT NULL AND p.languages != ''
		GROUP BY p.languages
		ORDER BY COUNT(DISTINCT p.person_id) DESC ` + limitClause(s.dialect)
	args = append(args, 15)
	return s.queryLabelCounts(ctx, query, args)
}
