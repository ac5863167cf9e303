package store

import (
	"context"
	"fmt"
)

// ReferralsTimeline 按日/周/月聚合转介创建量，时间过滤作用在创建时间本身。
func (s *Store) ReferralsTimeline(ctx context.Context, grouping string, f ReportFilter) ([]PeriodCount, error) {
	period := exprPeriod(s.dialect, grouping, "referral_created_at")
	query := `SELECT ` + period + ` AS period, COUNT(*) FROM referrals WHERE referral_created_at IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, "referral_created_at", f)
	query += ` GROUP BY ` + period + ` ORDER BY period ` + limitClause(s.dialect)
	args = append(args, 100)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询转介时间线失败: %w", err)
	}
	defer rows.Close()
	var out []PeriodCount
	for rows.Next() {
		var pc PeriodCount
		if err := rows.Scan(&pc.Period, &pc.Count); err != nil {
			return nil, fmt.Errorf("读取转介时间线失败: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// CasesOverTime 按日/周/月与个案状态聚合个案创建量，状态缺失按 Unknown 返回。
func (s *Store) CasesOverTime(ctx context.Context, grouping string, f ReportFilter) ([]PeriodStatusCount, error) {
	period := exprPeriod(s.dialect, grouping, "case_created_at")
	query := `
		SELECT ` + period + ` AS period, COALESCE(case_status, 'Unknown'), COUNT(*)
		FROM cases
		WHERE case_created_at IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("cases"), f)
	query += `
		GROUP BY ` + period + `, COALESCE(case_status, 'Unknown')
		ORDER BY period`

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询个案时间线失败: %w", err)
	}
	defer rows.Close()
	var out []PeriodStatusCount
	for rows.Next() {
		var pc PeriodStatusCount
		if err := rows.Scan(&pc.Period, &pc.Status, &pc.Count); err != nil {
			return nil, fmt.Errorf("读取个案时间线失败: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
