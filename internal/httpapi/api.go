package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/bootstrap"
	"github.com/linmu3/LifeMirror/internal/daywindow"
	"github.com/linmu3/LifeMirror/internal/eventbus"
	"github.com/linmu3/LifeMirror/internal/pkg/buildinfo"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// ========== DTOs（与 UI/CLI 契约保持稳定） ==========

type EntryDTO struct {
	ID            int64          `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	Category      string         `json:"category"`
	Status        string         `json:"status"`
	CapturedAt    int64          `json:"captured_at"`
	LocalDate     string         `json:"local_date"`
	TimezoneID    string         `json:"timezone_id,omitempty"`
	AssetRef      string         `json:"asset_ref,omitempty"`
	Payload       schema.Payload `json:"payload"`
}

type AnalysisDTO struct {
	ID         int64  `json:"id"`
	EntryID    int64  `json:"entry_id"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	CapturedAt int64  `json:"captured_at"`
	Body       string `json:"body"`
}

type EntryDetailDTO struct {
	Entry    EntryDTO     `json:"entry"`
	Analysis *AnalysisDTO `json:"analysis,omitempty"`
}

func toEntryDTO(e *schema.Entry) EntryDTO {
	return EntryDTO{
		ID:            e.ID,
		CorrelationID: e.CorrelationID,
		Category:      string(e.Category),
		Status:        string(e.Status),
		CapturedAt:    e.CapturedAt,
		LocalDate:     daywindow.LocalDate(e.CapturedAt, e.TimezoneID, e.UTCOffsetMin),
		TimezoneID:    e.TimezoneID,
		AssetRef:      e.AssetRef,
		Payload:       e.Payload,
	}
}

func toAnalysisDTO(a *schema.Analysis) *AnalysisDTO {
	if a == nil {
		return nil
	}
	return &AnalysisDTO{
		ID:         a.ID,
		EntryID:    a.EntryID,
		Provider:   a.Provider,
		Model:      a.Model,
		CapturedAt: a.CapturedAt,
		Body:       a.Body,
	}
}

// ========== API server ==========

type apiServer struct {
	core      *bootstrap.Core
	hub       *eventbus.Hub
	startTime time.Time
}

func newAPI(core *bootstrap.Core) *apiServer {
	return &apiServer{
		core:      core,
		hub:       core.Hub,
		startTime: time.Now(),
	}
}

func (a *apiServer) registerJSONRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/entries", a.wrapGET(a.listEntries))
	mux.HandleFunc("/api/entries/detail", a.wrapGET(a.getEntryDetail))
	mux.HandleFunc("/api/entries/queue", a.wrapPOST(a.queueEntry))
	mux.HandleFunc("/api/entries/retry", a.wrapPOST(a.retryEntry))
	mux.HandleFunc("/api/entries/cancel", a.wrapPOST(a.cancelEntry))
	mux.HandleFunc("/api/entries/correct", a.wrapPOST(a.correctEntry))

	mux.HandleFunc("/api/summary", a.wrapGET(a.getSummary))
	mux.HandleFunc("/api/summary/generate", a.wrapPOST(a.generateSummary))
}

func (a *apiServer) wrapGET(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func (a *apiServer) wrapPOST(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"name":       a.core.Cfg.App.Name,
		"version":    buildinfo.Version,
		"commit":     buildinfo.Commit,
		"started_at": a.startTime.Format(time.RFC3339),
	})
}

func (a *apiServer) listEntries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := a.core.Repos.Entry.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		out = append(out, toEntryDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *apiServer) getEntryDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt64Param(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id 参数无效")
		return
	}

	entry, err := a.core.Repos.Entry.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "条目不存在")
		return
	}

	analysis, err := a.core.Repos.Analysis.GetByEntryID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, EntryDetailDTO{
		Entry:    toEntryDTO(entry),
		Analysis: toAnalysisDTO(analysis),
	})
}

type idRequest struct {
	ID int64 `json:"id"`
}

func (a *apiServer) queueEntry(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := readJSON(r, &req); err != nil || req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "请求体无效")
		return
	}
	a.core.Services.Scheduler.Queue(req.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": req.ID})
}

// retryEntry 手动重试：failed/skipped 条目重置回 pending 再入队
func (a *apiServer) retryEntry(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := readJSON(r, &req); err != nil || req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "请求体无效")
		return
	}

	entry, err := a.core.Repos.Entry.GetByID(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "条目不存在")
		return
	}
	if !entry.Status.CanTransitionTo(schema.StatusPending) {
		writeError(w, http.StatusConflict, "当前状态不允许重试: "+string(entry.Status))
		return
	}

	if err := a.core.Repos.Entry.UpdateStatus(r.Context(), req.ID, schema.StatusPending); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.hub.Publish(eventbus.StatusEvent(req.ID, schema.StatusPending))
	a.core.Services.Scheduler.Queue(req.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": req.ID})
}

func (a *apiServer) cancelEntry(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := readJSON(r, &req); err != nil || req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "请求体无效")
		return
	}
	cancelled := a.core.Services.Scheduler.Cancel(req.ID)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled, "id": req.ID})
}

type correctRequest struct {
	ID         int64  `json:"id"`
	Correction string `json:"correction"`
}

func (a *apiServer) correctEntry(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if err := readJSON(r, &req); err != nil || req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "请求体无效")
		return
	}

	entry, err := a.core.Repos.Entry.GetByID(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "条目不存在")
		return
	}

	res := a.core.Services.Orchestrator.ProcessCorrection(r.Context(), entry, req.Correction)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// getSummary 查询指定本地日（默认今天）的总结条目与分析
func (a *apiServer) getSummary(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	tz := r.URL.Query().Get("tz")

	loc := daywindow.ResolveLocation(tz, nil)
	instant := time.Now()
	if date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "日期格式错误（应为 YYYY-MM-DD）")
			return
		}
		instant = parsed.Add(12 * time.Hour)
	}
	window := daywindow.ForInstant(instant.UTC(), tz, nil)

	summary, err := a.core.Repos.Entry.LatestSummaryInWindow(r.Context(), window.StartMs(), window.EndMs())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "该日期尚无总结")
		return
	}

	analysis, err := a.core.Repos.Analysis.GetByEntryID(r.Context(), summary.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	detail := EntryDetailDTO{Entry: toEntryDTO(summary), Analysis: toAnalysisDTO(analysis)}
	if analysis != nil {
		if synth, err := ai.ParseDaySynthesis(analysis.Body); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"detail": detail, "synthesis": synth})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"detail": detail})
}

type generateRequest struct {
	Date string `json:"date,omitempty"` // 空表示今天
	TZ   string `json:"tz,omitempty"`
}

// generateSummary 找到（或创建）总结条目并排入后台生成；进度通过 SSE 观察
func (a *apiServer) generateSummary(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体无效")
		return
	}

	entry, err := a.core.Services.Aggregation.EnsureSummaryEntry(r.Context(), req.Date, req.TZ)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch entry.Status {
	case schema.StatusProcessing:
		writeError(w, http.StatusConflict, "总结正在生成中")
		return
	case schema.StatusCompleted:
		// completed 不可经队列重入，重新生成走同步路径原地覆盖分析结果
		res := a.core.Services.Aggregation.Generate(r.Context(), entry)
		status := http.StatusOK
		if !res.Success {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{
			"queued":         false,
			"entry_id":       entry.ID,
			"correlation_id": entry.CorrelationID,
			"result":         res,
		})
		return
	case schema.StatusFailed, schema.StatusSkipped:
		if err := a.core.Repos.Entry.UpdateStatus(r.Context(), entry.ID, schema.StatusPending); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.hub.Publish(eventbus.StatusEvent(entry.ID, schema.StatusPending))
	}

	a.core.Services.Scheduler.Queue(entry.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":         true,
		"entry_id":       entry.ID,
		"correlation_id": entry.CorrelationID,
	})
}
