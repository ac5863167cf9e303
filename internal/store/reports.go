package store

import "math"

// ReportFilter 限定报表统计的时间范围，值为 YYYY-MM-DD 文本，空串表示不限制。
// 各表使用自己的“最近更新”列做过滤，people 表借道 cases 的更新时间。
type ReportFilter struct {
	StartDate string
	EndDate   string
}

func (f ReportFilter) empty() bool {
	return f.StartDate == "" && f.EndDate == ""
}

// dateColumnForTable 返回各表做时间过滤的列。
func dateColumnForTable(table string) string {
	switch table {
	case "referrals":
		return "referral_updated_at"
	case "cases":
		return "case_updated_at"
	case "assistance_requests":
		return "updated_at"
	default:
		return "created_at"
	}
}

// appendDateFilter 在 query 末尾追加时间条件（query 需已带 WHERE）。
func appendDateFilter(query string, args []any, col string, f ReportFilter) (string, []any) {
	if f.StartDate != "" {
		query += " AND " + col + " >= ?"
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		query += " AND " + col + " <= ?"
		args = append(args, f.EndDate)
	}
	return query, args
}

// round1 保留一位小数，与报表输出格式一致。
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// LabelCount 是一条分组计数，Label 为 NULL 时由展示层换成 Unknown。
type LabelCount struct {
	Label *string
	Count int64
}

// SummaryCounts 是仪表盘顶部的总量卡片。
type SummaryCounts struct {
	TotalPeople             int64
	TotalCases              int64
	TotalReferrals          int64
	TotalAssistanceRequests int64
}

// ProviderPairCount 是机构间转介对的计数。
type ProviderPairCount struct {
	FromProvider string
	ToProvider   string
	Count        int64
}

// HouseholdComposition 是一类家庭构成（人数与成人/儿童拆分）。
type HouseholdComposition struct {
	HouseholdSize int64
	Adults        int64
	Children      int64
	Count         int64
}

// ScatterPoint 是成人数×儿童数散点。
type ScatterPoint struct {
	X     int64
	Y     int64
	Count int64
}

// PeriodCount 是时间序列上的一个点。
type PeriodCount struct {
	Period string
	Count  int64
}

// PeriodStatusCount 是按状态拆分的时间序列点。
type PeriodStatusCount struct {
	Period string
	Status string
	Count  int64
}

// ProgramReferralStats 是接收项目的转介量与接受量。
type ProgramReferralStats struct {
	ProgramName       string
	TotalReferrals    int64
	AcceptedReferrals int64
}

// ResolutionTimeStats 是某服务类型的结案时长统计（天）。
type ResolutionTimeStats struct {
	ServiceType string
	TotalCases  int64
	AvgDays     float64
	MinDays     float64
	MaxDays     float64
}

// ConversionStats 是某服务类型的转介转化拆分。
type ConversionStats struct {
	ServiceType    string
	TotalReferrals int64
	Accepted       int64
	Declined       int64
	Pending        int64
}

// SankeyEdge 是转介流向图的一条边。
type SankeyEdge struct {
	FromProvider string
	ToProvider   string
	Count        int64
}

// FunnelCounts 是转介漏斗的一次性聚合。
type FunnelCounts struct {
	Total            int64
	NotRejected      int64
	Accepted         int64
	Completed        int64
	Declined         int64
	ExpiredCancelled int64
	Pending          int64
}

// TimingStageStats 是转介时长分析的一个阶段。
type TimingStageStats struct {
	Stage   string
	Count   int64
	AvgDays float64
	MinDays float64
	MaxDays float64
}

// ProviderPerformanceStats 是单个机构的转介处理表现。
type ProviderPerformanceStats struct {
	ProviderName    string
	TotalReferrals  int64
	Accepted        int64
	Declined        int64
	Completed       int64
	Dropped         int64
	AvgResponseDays *float64
	AvgDeclineDays  *float64
}

// DropOffStats 是某服务类型的转介流失拆分。
type DropOffStats struct {
	ServiceType      string
	TotalReferrals   int64
	Dropped          int64
	Declined         int64
	ExpiredCancelled int64
}

// JourneyStageStats 是客户旅程中某个转介状态的停留情况。
type JourneyStageStats struct {
	Status         string
	Count          int64
	UniqueClients  int64
	AvgDaysInStage float64
}
