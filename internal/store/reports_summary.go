package store

import (
	"context"
	"fmt"
)

// Summary 返回仪表盘顶部的四个总量。人数按出现在 cases 中的去重 person_id 统计。
func (s *Store) Summary(ctx context.Context, f ReportFilter) (SummaryCounts, error) {
	var out SummaryCounts

	query := `SELECT COUNT(DISTINCT person_id) FROM cases WHERE 1=1`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("cases"), f)
	if err := s.domain.QueryRowContext(ctx, rebind(s.dialect, query), args...).Scan(&out.TotalPeople); err != nil {
		return SummaryCounts{}, fmt.Errorf("统计人数失败: %w", err)
	}

	query = `SELECT COUNT(*) FROM cases WHERE 1=1`
	args = args[:0]
	query, args = appendDateFilter(query, args, dateColumnForTable("cases"), f)
	if err := s.domain.QueryRowContext(ctx, rebind(s.dialect, query), args...).Scan(&out.TotalCases); err != nil {
		return SummaryCounts{}, fmt.Errorf("统计个案数失败: %w", err)
	}

	query = `SELECT COUNT(*) FROM referrals WHERE 1=1`
	args = args[:0]
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	if err := s.domain.QueryRowContext(ctx, rebind(s.dialect, query), args...).Scan(&out.TotalReferrals); err != nil {
		return SummaryCounts{}, fmt.Errorf("统计转介数失败: %w", err)
	}

	query = `SELECT COUNT(*) FROM assistance_requests WHERE 1=1`
	args = args[:0]
	query, args = appendDateFilter(query, args, dateColumnForTable("assistance_requests"), f)
	if err := s.domain.QueryRowContext(ctx, rebind(s.dialect, query), args...).Scan(&out.TotalAssistanceRequests); err != nil {
		return SummaryCounts{}, fmt.Errorf("统计求助申请数失败: %w", err)
	}
	return out, nil
}

// CaseStatusCounts 按个案状态分组计数。
func (s *Store) CaseStatusCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	query := `SELECT case_status, COUNT(*) FROM cases WHERE case_status IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("cases"), f)
	query += ` GROUP BY case_status ORDER BY COUNT(*) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// ReferralStatusCounts 按转介状态分组计数。
func (s *Store) ReferralStatusCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	query := `SELECT referral_status, COUNT(*) FROM referrals WHERE referral_status IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += ` GROUP BY referral_status ORDER BY COUNT(*) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// ServiceTypeCounts 返回个案量最高的前十类服务。
func (s *Store) ServiceTypeCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	query := `SELECT service_type, COUNT(*) FROM cases WHERE service_type IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("cases"), f)
	query += ` GROUP BY service_type ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 10)
	return s.queryLabelCounts(ctx, query, args)
}

// ReferralServiceTypeCounts 返回转介量最高的前十类服务。
func (s *Store) ReferralServiceTypeCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	query := `SELECT service_type, COUNT(*) FROM referrals WHERE service_type IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += ` GROUP BY service_type ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 10)
	return s.queryLabelCounts(ctx, query, args)
}

// AssistanceStatusCounts 按求助申请状态分组计数。
func (s *Store) AssistanceStatusCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	query := `SELECT status, COUNT(*) FROM assistance_requests WHERE status IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("assistance_requests"), f)
	query += ` GROUP BY status ORDER BY COUNT(*) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// AssistanceTypeCounts 按求助申请类别分组计数。
func (s *Store) AssistanceTypeCounts(ctx context.Context, f ReportFilter) ([]LabelCount, error) {
	query := `SELECT request_type, COUNT(*) FROM assistance_requests WHERE request_type IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("assistance_requests"), f)
	query += ` GROUP BY request_type ORDER BY COUNT(*) DESC`
	return s.queryLabelCounts(ctx, query, args)
}

// TopSendingProviders 返回发起转介最多的机构。
func (s *Store) TopSendingProviders(ctx context.Context, f ReportFilter, limit int) ([]LabelCount, error) {
	return s.topProviders(ctx, "sending_provider_name", f, limit)
}

// TopReceivingProviders 返回接收转介最多的机构。
func (s *Store) TopReceivingProviders(ctx context.Context, f ReportFilter, limit int) ([]LabelCount, error) {
	return s.topProviders(ctx, "receiving_provider_name", f, limit)
}

func (s *Store) topProviders(ctx context.Context, col string, f ReportFilter, limit int) ([]LabelCount, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + col + `, COUNT(*) FROM referrals WHERE ` + col + ` IS NOT NULL`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += ` GROUP BY ` + col + ` ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, limit)
	return s.queryLabelCounts(ctx, query, args)
}

// ProviderCollaboration 返回出现 3 次以上的机构转介对。
func (s *Store) ProviderCollaboration(ctx context.Context, f ReportFilter) ([]ProviderPairCount, error) {
	query := `
		SELECT sending_provider_name, receiving_provider_name, COUNT(*)
		FROM referrals
		WHERE sending_provider_name IS NOT NULL AND receiving_provider_name IS NOT NULL
			AND sending_provider_name != receiving_provider_name`
	args := []any{}
	query, args = appendDateFilter(query, args, dateColumnForTable("referrals"), f)
	query += `
		GROUP BY sending_provider_name, receiving_provider_name
		HAVING COUNT(*) >= 3
		ORDER BY COUNT(*) DESC ` + limitClause(s.dialect)
	args = append(args, 20)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询机构协作失败: %w", err)
	}
	defer rows.Close()
	var out []ProviderPairCount
	for rows.Next() {
		var p ProviderPairCount
		if err := rows.Scan(&p.FromProvider, &p.ToProvider, &p.Count); err != nil {
			return nil, fmt.Errorf("读取机构协作失败: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) queryLabelCounts(ctx context.Context, query string, args []any) ([]LabelCount, error) {
	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询分组计数失败: %w", err)
	}
	defer rows.Close()
	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("读取分组计数失败: %w", err)
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}
