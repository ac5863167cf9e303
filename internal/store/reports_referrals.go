package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TopPrograms 返回转介量最高的接收项目及其接受量。
func (s *Store) TopPrograms(ctx context.Context, f ReportFilter) ([]ProgramReferralStats, error) {
	query := `
		SELECT receiving_program_name,
			COUNT(*),
			SUM(CASE WHEN referral_status = 'accepted' THEN 1 ELSE 0 END)
		FROM referrals
		WHERE receiving_program_name IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += `
		GROUP BY receiving_program_name
		ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 15)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询热门项目失败: %w", err)
	}
	defer rows.Close()
	var out []ProgramReferralStats
	for rows.Next() {
		var p ProgramReferralStats
		if err := rows.Scan(&p.ProgramName, &p.TotalReferrals, &p.AcceptedReferrals); err != nil {
			return nil, fmt.Errorf("读取热门项目失败: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CaseOutcomes 按结案方式分组计数。
func (s *Store) CaseOutcomes(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	query := `SELECT outcome_resolution_type, COUNT(*) FROM cases WHERE outcome_resolution_type IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("cases"), f)
	query += ` GROUP BY outcome_resolution_type ORDER BY COUNT(*) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// ResolutionTimeMetrics 按服务类型统计结案用时（天），样本不足 3 例的类型不计入。
func (s *Store) ResolutionTimeMetrics(ctx context.Context, f ReportFilter) ([]ResolutionTimeStats, error) {
	span := exprDaysBetween(s.dialect, "case_closed_at", "case_created_at")
	query := `
		SELECT service_type,
			COUNT(*),
			AVG(` + span + `),
			MIN(` + span + `),
			MAX(` + span + `)
		FROM cases
		WHERE service_type IS NOT NULL
			AND case_created_at IS NOT NULL
			AND case_closed_at IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("cases"), f)
	query += `
		GROUP BY service_type
		HAVING COUNT(*) >= 3
		ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 10)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询结案时长失败: %w", err)
	}
	defer rows.Close()
	var out []ResolutionTimeStats
	for rows.Next() {
		var r ResolutionTimeStats
		var avg, min, max sql.NullFloat64
		if err := rows.Scan(&r.ServiceType, &r.TotalCases, &avg, &min, &max); err != nil {
			return nil, fmt.Errorf("读取结案时长失败: %w", err)
		}
		r.AvgDays = round1(avg.Float64)
		r.MinDays = round1(min.Float64)
		r.MaxDays = round1(max.Float64)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReferralConversionMetrics 按服务类型统计转介的接受/拒绝/待定拆分，样本不足 5 例的不计入。
func (s *Store) ReferralConversionMetrics(ctx context.Context, f ReportFilter) ([]ConversionStats, error) {
	query := `
		SELECT service_type,
			COUNT(*),
			SUM(CASE WHEN referral_status = 'accepted' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status = 'declined' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status IN ('pending', 'off_platform') THEN 1 ELSE 0 END)
		FROM referrals
		WHERE service_type IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += `
		GROUP BY service_type
		HAVING COUNT(*) >= 5
		ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 10)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询转介转化失败: %w", err)
	}
	defer rows.Close()
	var out []ConversionStats
	for rows.Next() {
		var c ConversionStats
		if err := rows.Scan(&c.ServiceType, &c.TotalReferrals, &c.Accepted, &c.Declined, &c.Pending); err != nil {
			return nil, fmt.Errorf("读取转介转化失败: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReferralFlowEdges 返回机构间成功转介（accepted/completed）的流向边，
// 排除自我转介，minReferrals 以下的边不计入。
func (s *Store) ReferralFlowEdges(ctx context.Context, f ReportFilter, minReferrals int) ([]SankeyEdge, error) {
	if minReferrals <= 0 {
		minReferrals = 5
	}
	query := `
		SELECT sending_provider_name, receiving_provider_name, COUNT(*)
		FROM referrals
		WHERE sending_provider_name IS NOT NULL
			AND receiving_provider_name IS NOT NULL
			AND sending_provider_name != receiving_provider_name
			AND referral_status IN ('accepted', 'completed')`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += `
		GROUP BY sending_provider_name, receiving_provider_name
		HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, minReferrals, 50)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询转介流向失败: %w", err)
	}
	defer rows.Close()
	var out []SankeyEdge
	for rows.Next() {
		var e SankeyEdge
		if err := rows.Scan(&e.FromProvider, &e.ToProvider, &e.Count); err != nil {
			return nil, fmt.Errorf("读取转介流向失败: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReferralFunnel 一次性聚合转介漏斗各阶段的数量。
func (s *Store) ReferralFunnel(ctx context.Context, f ReportFilter) (FunnelCounts, error) {
	query := `
		SELECT COUNT(*),
			SUM(CASE WHEN referral_status NOT IN ('declined', 'expired', 'cancelled') THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status IN ('accepted', 'completed', 'in_progress') THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status = 'declined' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status IN ('expired', 'cancelled') THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status IN ('pending', 'sent') THEN 1 ELSE 0 END)
		FROM referrals
		WHERE referral_status IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)

	var fc FunnelCounts
	var notRejected, accepted, completed, declined, expired, pending sql.NullInt64
	err := s.domain.QueryRowContext(ctx, rebind(s.dialect, query), args...).Scan(
		&fc.Total, &notRejected, &accepted, &completed, &declined, &expired, &pending,
	)
	if err != nil {
		return FunnelCounts{}, fmt.Errorf("查询转介漏斗失败: %w", err)
	}
	fc.NotRejected = notRejected.Int64
	fc.Accepted = accepted.Int64
	fc.Completed = completed.Int64
	fc.Declined = declined.Int64
	fc.ExpiredCancelled = expired.Int64
	fc.Pending = pending.Int64
	return fc, nil
}

// ReferralTimingAnalysis 统计转介从创建到当前状态、从创建到被拒绝的用时（天）。
func (s *Store) ReferralTimingAnalysis(ctx context.Context, f ReportFilter) ([]TimingStageStats, error) {
	toStatus := exprDaysBetween(s.dialect, "referral_updated_at", "referral_created_at")
	toDecline := exprDaysBetween(s.dialect, "declined_at", "referral_created_at")
	dateCol := dateColumnForTable("referrals")

	part1 := `
		SELECT 'Creation to Current Status' AS stage,
			COUNT(*) AS cnt,
			AVG(` + toStatus + `) AS avg_days,
			MIN(` + toStatus + `) AS min_days,
			MAX(` + toStatus + `) AS max_days
		FROM referrals
		WHERE referral_created_at IS NOT NULL AND referral_updated_at IS NOT NULL`
	args := []any{}
	part1, args = appendDateFilter(part1, args, dateCol, f)

	part2 := `
		SELECT 'Time to Decline' AS stage,
			COUNT(*) AS cnt,
			AVG(` + toDecline + `) AS avg_days,
			MIN(` + toDecline + `) AS min_days,
			MAX(` + toDecline + `) AS max_days
		FROM referrals
		WHERE referral_created_at IS NOT NULL AND declined_at IS NOT NULL`
	part2, args = appendDateFilter(part2, args, dateCol, f)

	query := part1 + ` UNION ALL ` + part2
	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询转介时长失败: %w", err)
	}
	defer rows.Close()
	var out []TimingStageStats
	for rows.Next() {
		var t TimingStageStats
		var avg, min, max sql.NullFloat64
		if err := rows.Scan(&t.Stage, &t.Count, &avg, &min, &max); err != nil {
			return nil, fmt.Errorf("读取转介时长失败: %w", err)
		}
		if t.Count == 0 {
			continue
		}
		t.AvgDays = round1(avg.Float64)
		t.MinDays = round1(min.Float64)
		t.MaxDays = round1(max.Float64)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ProviderPerformance 按机构统计转介处理表现，providerType 取 sending 或 receiving，
// 样本不足 5 例的机构不计入。
func (s *Store) ProviderPerformance(ctx context.Context, providerType string, f ReportFilter) ([]ProviderPerformanceStats, error) {
	var col string
	switch providerType {
	case "sending":
		col = "sending_provider_name"
	case "receiving":
		col = "receiving_provider_name"
	default:
		return nil, fmt.Errorf("无效的机构类型：%s", providerType)
	}
	respond := exprDaysBetween(s.dialect, "referral_updated_at", "referral_created_at")
	decline := exprDaysBetween(s.dialect, "declined_at", "referral_created_at")
	query := `
		SELECT ` + col + `,
			COUNT(*),
			SUM(CASE WHEN referral_status = 'accepted' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status = 'declined' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status IN ('expired', 'cancelled') THEN 1 ELSE 0 END),
			AVG(CASE WHEN referral_status = 'accepted' AND referral_updated_at IS NOT NULL THEN ` + respond + ` END),
			AVG(CASE WHEN declined_at IS NOT NULL THEN ` + decline + ` END)
		FROM referrals
		WHERE ` + col + ` IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += `
		GROUP BY ` + col + `
		HAVING COUNT(*) >= 5
		ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 15)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询机构表现失败: %w", err)
	}
	defer rows.Close()
	var out []ProviderPerformanceStats
	for rows.Next() {
		var p ProviderPerformanceStats
		var respAvg, declAvg sql.NullFloat64
		if err := rows.Scan(&p.ProviderName, &p.TotalReferrals, &p.Accepted, &p.Declined,
			&p.Completed, &p.Dropped, &respAvg, &declAvg); err != nil {
			return nil, fmt.Errorf("读取机构表现失败: %w", err)
		}
		if respAvg.Valid {
			v := round1(respAvg.Float64)
			p.AvgResponseDays = &v
		}
		if declAvg.Valid {
			v := round1(declAvg.Float64)
			p.AvgDeclineDays = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HighRiskDropOff 返回流失率最高的服务类型，样本不足 10 例的不计入。
func (s *Store) HighRiskDropOff(ctx context.Context, f ReportFilter) ([]DropOffStats, error) {
	dropped := `SUM(CASE WHEN referral_status IN ('declined', 'expired', 'cancelled') THEN 1 ELSE 0 END)`
	query := `
		SELECT service_type,
			COUNT(*),
			` + dropped + `,
			SUM(CASE WHEN referral_status = 'declined' THEN 1 ELSE 0 END),
			SUM(CASE WHEN referral_status IN ('expired', 'cancelled') THEN 1 ELSE 0 END)
		FROM referrals
		WHERE service_type IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += `
		GROUP BY service_type
		HAVING COUNT(*) >= 10
		ORDER BY ` + dropped + ` * 100.0 / COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 10)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询转介流失失败: %w", err)
	}
	defer rows.Close()
	var out []DropOffStats
	for rows.Next() {
		var d DropOffStats
		if err := rows.Scan(&d.ServiceType, &d.TotalReferrals, &d.Dropped, &d.Declined, &d.ExpiredCancelled); err != nil {
			return nil, fmt.Errorf("读取转介流失失败: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClientJourneyStages 按转介状态统计客户停留情况，停留天数以最近更新时间距今计算。
func (s *Store) ClientJourneyStages(ctx context.Context, f ReportFilter) ([]JourneyStageStats, error) {
	sinceUpdate := exprDaysSince(s.dialect, "referral_updated_at")
	query := `
		SELECT referral_status,
			COUNT(*),
			COUNT(DISTINCT person_id),
			AVG(` + sinceUpdate + `)
		FROM referrals
		WHERE referral_status IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += `
		GROUP BY referral_status
		ORDER BY COUNT(*) DESC`

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询客户旅程失败: %w", err)
	}
	defer rows.Close()
	var out []JourneyStageStats
	for rows.Next() {
		var j JourneyStageStats
		var avg sql.NullFloat64
		if err := rows.Scan(&j.Status, &j.Count, &j.UniqueClients, &avg); err != nil {
			return nil, fmt.Errorf("读取客户旅程失败: %w", err)
		}
		j.AvgDaysInStage = round1(avg.Float64)
		out = append(out, j)
	}
	return out, rows.Err()
}
