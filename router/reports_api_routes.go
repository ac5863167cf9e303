package router

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/store"
)

// 报表接口的口径：任何查询错误都退化成空图形，前端渲染空白而不是 500。
// 响应是前端图表直接消费的裸结构，不走 success 包。

func setReportsAPIRoutes(r gin.IRoutes, opts Options) {
	viewer := requireRole(opts, store.RoleViewer)

	r.GET("/reports/summary", viewer, summaryHandler(opts))

	r.GET("/reports/referrals/by-status", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.ReferralStatusCounts(ctx, f)
	}))
	r.GET("/reports/referrals/by-type", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.ReferralServiceTypeCounts(ctx, f)
	}))
	r.GET("/reports/cases/by-status", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.CaseStatusCounts(ctx, f)
	}))
	r.GET("/reports/cases/by-type", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.ServiceTypeCounts(ctx, f)
	}))
	r.GET("/reports/assistance/by-status", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.AssistanceStatusCounts(ctx, f)
	}))
	r.GET("/reports/assistance/by-type", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.AssistanceTypeCounts(ctx, f)
	}))
	r.GET("/reports/service-types", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.ServiceTypeCounts(ctx, f)
	}))
	r.GET("/reports/cases/outcomes", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.CaseOutcomes(ctx, f)
	}))

	r.GET("/reports/providers/top", viewer, topProvidersHandler(opts))
	r.GET("/reports/providers/collaboration", viewer, collaborationHandler(opts))
	r.GET("/reports/providers/performance", viewer, providerPerformanceHandler(opts))

	r.GET("/reports/demographics/age", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.AgeBrackets(ctx, f)
	}))
	r.GET("/reports/demographics/gender", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.GenderCounts(ctx, f)
	}))
	r.GET("/reports/demographics/race", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.RaceCounts(ctx, f)
	}))
	r.GET("/reports/demographics/language", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.LanguageCounts(ctx, f)
	}))
	r.GET("/reports/demographics/marital-status", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.MaritalStatusCounts(ctx, f)
	}))
	r.GET("/reports/demographics/communication", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.CommunicationPreferences(ctx, f)
	}))
	r.GET("/reports/demographics/income", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.IncomeBrackets(ctx, f)
	}))
	r.GET("/reports/demographics/insurance", viewer, chartHandler(opts, func(ctx context.Context, f store.ReportFilter) ([]store.LabelCount, error) {
		return opts.Store.InsuranceCoverage(ctx, f)
	}))
	r.GET("/reports/demographics/household", viewer, householdHandler(opts))
	r.GET("/reports/households/scatter", viewer, householdScatterHandler(opts))

	r.GET("/reports/timeline", viewer, timelineHandler(opts))
	r.GET("/reports/cases/over-time", viewer, casesOverTimeHandler(opts))

	r.GET("/reports/programs/top", viewer, topProgramsHandler(opts))
	r.GET("/reports/referrals/resolution-time", viewer, resolutionTimeHandler(opts))
	r.GET("/reports/referrals/conversion", viewer, conversionHandler(opts))
	r.GET("/reports/referrals/flow", viewer, referralFlowHandler(opts))
	r.GET("/reports/referrals/funnel", viewer, referralFunnelHandler(opts))
	r.GET("/reports/referrals/timing", viewer, referralTimingHandler(opts))
	r.GET("/reports/referrals/drop-off", viewer, dropOffHandler(opts))
	r.GET("/reports/referrals/journey", viewer, journeyHandler(opts))
}

func reportError(c *gin.Context, name string, err error) {
	slog.Warn("报表查询失败，返回空结果", "report", name, "error", err)
}

func summaryHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := opts.Store.Summary(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "summary", err)
			counts = store.SummaryCounts{}
		}
		c.JSON(http.StatusOK, gin.H{
			"total_people":              counts.TotalPeople,
			"total_cases":               counts.TotalCases,
			"total_referrals":           counts.TotalReferrals,
			"total_assistance_requests": counts.TotalAssistanceRequests,
		})
	}
}

func chartHandler(opts Options, query func(context.Context, store.ReportFilter) ([]store.LabelCount, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := query(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, c.FullPath(), err)
			c.JSON(http.StatusOK, emptyChart())
			return
		}
		c.JSON(http.StatusOK, chartJSON(items))
	}
}

func topProvidersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intParam(c, "limit", 10)
		f := reportFilter(c)

		var items []store.LabelCount
		var err error
		if strings.EqualFold(c.Query("direction"), "receiving") {
			items, err = opts.Store.TopReceivingProviders(c.Request.Context(), f, limit)
		} else {
			items, err = opts.Store.TopSendingProviders(c.Request.Context(), f, limit)
		}
		if err != nil {
			reportError(c, "providers/top", err)
			c.JSON(http.StatusOK, emptyChart())
			return
		}
		c.JSON(http.StatusOK, chartJSON(items))
	}
}

func collaborationHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		pairs, err := opts.Store.ProviderCollaboration(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "providers/collaboration", err)
			pairs = nil
		}
		out := make([]gin.H, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, gin.H{"from": p.FromProvider, "to": p.ToProvider, "count": p.Count})
		}
		c.JSON(http.StatusOK, gin.H{"collaborations": out})
	}
}

func providerPerformanceHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		direction := "receiving"
		if strings.EqualFold(c.Query("direction"), "sending") {
			direction = "sending"
		}
		stats, err := opts.Store.ProviderPerformance(c.Request.Context(), direction, reportFilter(c))
		if err != nil {
			reportError(c, "providers/performance", err)
			stats = nil
		}
		out := make([]gin.H, 0, len(stats))
		for _, p := range stats {
			out = append(out, gin.H{
				"provider":          p.ProviderName,
				"total_referrals":   p.TotalReferrals,
				"accepted":          p.Accepted,
				"declined":          p.Declined,
				"completed":         p.Completed,
				"dropped":           p.Dropped,
				"avg_response_days": p.AvgResponseDays,
				"avg_decline_days":  p.AvgDeclineDays,
			})
		}
		c.JSON(http.StatusOK, gin.H{"providers": out})
	}
}

func householdHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		comps, err := opts.Store.HouseholdCompositions(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "demographics/household", err)
			c.JSON(http.StatusOK, emptyChart())
			return
		}
		labels := make([]string, 0, len(comps))
		values := make([]int64, 0, len(comps))
		for _, h := range comps {
			labels = append(labels, householdLabel(h))
			values = append(values, h.Count)
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels, "values": values})
	}
}

func householdLabel(h store.HouseholdComposition) string {
	adult := "adults"
	if h.Adults == 1 {
		adult = "adult"
	}
	child := "children"
	if h.Children == 1 {
		child = "child"
	}
	return "Size " + strconv.FormatInt(h.HouseholdSize, 10) +
		" (" + strconv.FormatInt(h.Adults, 10) + " " + adult +
		", " + strconv.FormatInt(h.Children, 10) + " " + child + ")"
}

func householdScatterHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		points, err := opts.Store.AdultsChildrenScatter(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "households/scatter", err)
			points = nil
		}
		out := make([]gin.H, 0, len(points))
		for _, p := range points {
			out = append(out, gin.H{"x": p.X, "y": p.Y, "count": p.Count})
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	}
}

func normalizeGrouping(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "day":
		return "day"
	case "week":
		return "week"
	default:
		return "month"
	}
}

func timelineHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		grouping := normalizeGrouping(c.Query("group"))
		points, err := opts.Store.ReferralsTimeline(c.Request.Context(), grouping, reportFilter(c))
		if err != nil {
			reportError(c, "timeline", err)
			points = nil
		}
		labels := make([]string, 0, len(points))
		values := make([]int64, 0, len(points))
		for _, p := range points {
			labels = append(labels, p.Period)
			values = append(values, p.Count)
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels, "values": values, "grouping": grouping})
	}
}

func casesOverTimeHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		grouping := normalizeGrouping(c.Query("group"))
		points, err := opts.Store.CasesOverTime(c.Request.Context(), grouping, reportFilter(c))
		if err != nil {
			reportError(c, "cases/over-time", err)
			points = nil
		}

		// 行转列：横轴是排序后的期间，每个状态一条数据集，缺口补零。
		periodSet := map[string]bool{}
		byStatus := map[string]map[string]int64{}
		for _, p := range points {
			periodSet[p.Period] = true
			m, okStatus := byStatus[p.Status]
			if !okStatus {
				m = map[string]int64{}
				byStatus[p.Status] = m
			}
			m[p.Period] = p.Count
		}
		periods := make([]string, 0, len(periodSet))
		for p := range periodSet {
			periods = append(periods, p)
		}
		sort.Strings(periods)
		statuses := make([]string, 0, len(byStatus))
		for s := range byStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)

		datasets := make([]gin.H, 0, len(statuses))
		for _, status := range statuses {
			data := make([]int64, 0, len(periods))
			for _, period := range periods {
				data = append(data, byStatus[status][period])
			}
			datasets = append(datasets, gin.H{"label": status, "data": data})
		}
		c.JSON(http.StatusOK, gin.H{"labels": periods, "datasets": datasets})
	}
}

func topProgramsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := opts.Store.TopPrograms(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "programs/top", err)
			stats = nil
		}
		out := make([]gin.H, 0, len(stats))
		for _, p := range stats {
			out = append(out, gin.H{
				"program":            p.ProgramName,
				"total_referrals":    p.TotalReferrals,
				"accepted_referrals": p.AcceptedReferrals,
			})
		}
		c.JSON(http.StatusOK, gin.H{"programs": out})
	}
}

func resolutionTimeHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := opts.Store.ResolutionTimeMetrics(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "referrals/resolution-time", err)
			stats = nil
		}
		out := make([]gin.H, 0, len(stats))
		for _, s := range stats {
			out = append(out, gin.H{
				"service_type": s.ServiceType,
				"total_cases":  s.TotalCases,
				"avg_days":     s.AvgDays,
				"min_days":     s.MinDays,
				"max_days":     s.MaxDays,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": out})
	}
}

func conversionHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := opts.Store.ReferralConversionMetrics(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "referrals/conversion", err)
			stats = nil
		}
		out := make([]gin.H, 0, len(stats))
		for _, s := range stats {
			out = append(out, gin.H{
				"service_type":    s.ServiceType,
				"total_referrals": s.TotalReferrals,
				"accepted":        s.Accepted,
				"declined":        s.Declined,
				"pending":         s.Pending,
			})
		}
		c.JSON(http.StatusOK, gin.H{"conversion": out})
	}
}

func referralFlowHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		minReferrals := intParam(c, "min", 2)
		edges, err := opts.Store.ReferralFlowEdges(c.Request.Context(), reportFilter(c), minReferrals)
		if err != nil {
			reportError(c, "referrals/flow", err)
			edges = nil
		}
		out := make([]gin.H, 0, len(edges))
		for _, e := range edges {
			out = append(out, gin.H{"from": e.FromProvider, "to": e.ToProvider, "count": e.Count})
		}
		c.JSON(http.StatusOK, gin.H{"edges": out})
	}
}

func referralFunnelHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		funnel, err := opts.Store.ReferralFunnel(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "referrals/funnel", err)
			funnel = store.FunnelCounts{}
		}
		c.JSON(http.StatusOK, gin.H{
			"total":             funnel.Total,
			"not_rejected":      funnel.NotRejected,
			"accepted":          funnel.Accepted,
			"completed":         funnel.Completed,
			"declined":          funnel.Declined,
			"expired_cancelled": funnel.ExpiredCancelled,
			"pending":           funnel.Pending,
		})
	}
}

func referralTimingHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		stages, err := opts.Store.ReferralTimingAnalysis(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "referrals/timing", err)
			stages = nil
		}
		out := make([]gin.H, 0, len(stages))
		for _, s := range stages {
			out = append(out, gin.H{
				"stage":    s.Stage,
				"count":    s.Count,
				"avg_days": s.AvgDays,
				"min_days": s.MinDays,
				"max_days": s.MaxDays,
			})
		}
		c.JSON(http.StatusOK, gin.H{"stages": out})
	}
}

func dropOffHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := opts.Store.HighRiskDropOff(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "referrals/drop-off", err)
			stats = nil
		}
		out := make([]gin.H, 0, len(stats))
		for _, s := range stats {
			out = append(out, gin.H{
				"service_type":      s.ServiceType,
				"total_referrals":   s.TotalReferrals,
				"dropped":           s.Dropped,
				"declined":          s.Declined,
				"expired_cancelled": s.ExpiredCancelled,
			})
		}
		c.JSON(http.StatusOK, gin.H{"drop_off": out})
	}
}

func journeyHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		stages, err := opts.Store.ClientJourneyStages(c.Request.Context(), reportFilter(c))
		if err != nil {
			reportError(c, "referrals/journey", err)
			stages = nil
		}
		out := make([]gin.H, 0, len(stages))
		for _, s := range stages {
			out = append(out, gin.H{
				"status":            s.Status,
				"count":             s.Count,
				"unique_clients":    s.UniqueClients,
				"avg_days_in_stage": s.AvgDaysInStage,
			})
		}
		c.JSON(http.StatusOK, gin.H{"stages": out})
	}
}
