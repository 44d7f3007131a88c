package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/roster"
	"rollcall/internal/scheduler"
)

// Enqueuer hands background jobs to the scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, job string) error
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handler to its collaborators.
type Deps struct {
	Attendance *attendance.Service
	Roster     *roster.Service
	Admin      *auth.Admin
	Jobs       Enqueuer
	Health     Pinger
	// RateLimit guards public mutation routes. Nil disables it.
	RateLimit  gin.HandlerFunc
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
}

// Handler serves the JSON API.
type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.RateLimit == nil {
		d.RateLimit = func(c *gin.Context) { c.Next() }
	}
	return &Handler{Deps: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.healthz)

	api := r.Group("/api")
	api.GET("/attendance", h.today)
	api.POST("/attendance/:studentName", h.RateLimit, h.setStatus)
	api.POST("/attendance/:studentName/toggle", h.RateLimit, h.toggle)
	api.GET("/display", h.display)
	api.GET("/logs", h.logs)
	api.GET("/history", h.history)
	api.GET("/history/:date", h.historyFor)
	api.POST("/admin/login", h.RateLimit, h.login)

	admin := api.Group("", auth.AdminAuth(h.SigningKey, h.Issuer))
	admin.POST("/archive", h.archive)
	admin.GET("/admin/verify", h.verify)
	admin.GET("/admin/students", h.listStudents)
	admin.POST("/admin/students", h.addStudent)
	admin.PUT("/admin/students/:id", h.updateStudent)
	admin.DELETE("/admin/students/:id", h.deleteStudent)
	admin.POST("/admin/reset", h.reset)
	admin.POST("/admin/bulk-attendance", h.bulk)
	admin.POST("/admin/refresh", h.refresh)
	admin.DELETE("/admin/clear-all", h.clearAll)
}

// ---------- Health ----------

func (h *Handler) healthz(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": false})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": true})
}

// ---------- Attendance ----------

func (h *Handler) today(c *gin.Context) {
	snap, err := h.Attendance.Today(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", snap)
}

type setStatusRequest struct {
	Status json.RawMessage `json:"status"`
}

func (h *Handler) setStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Status) == 0 {
		badRequest(c, "status is required")
		return
	}
	var status attendance.Status
	if err := json.Unmarshal(req.Status, &status); err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	day, err := h.Attendance.EnsureDay(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	ch, err := h.Attendance.SetStatus(ctx, day.Date, c.Param("studentName"), status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "attendance updated for "+ch.Student, ch)
}

type toggleRequest struct {
	Intent string `json:"intent" binding:"required"`
}

func (h *Handler) toggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "intent is required")
		return
	}
	intent, err := attendance.ParseIntent(req.Intent)
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	day, err := h.Attendance.EnsureDay(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	ch, err := h.Attendance.Mark(ctx, day.Date, c.Param("studentName"), intent)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "attendance updated for "+ch.Student, ch)
}

func (h *Handler) display(c *gin.Context) {
	b, err := h.Attendance.Display(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", b)
}

func (h *Handler) logs(c *gin.Context) {
	ctx := c.Request.Context()
	day, err := h.Attendance.EnsureDay(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	date := c.DefaultQuery("date", day.Date)
	entries, err := h.Attendance.Logs(ctx, date, queryInt(c, "limit", 0))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"date": date, "logs": entries})
}

// ---------- History ----------

func (h *Handler) history(c *gin.Context) {
	page, err := h.Attendance.History(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "limit", 0))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", page)
}

func (h *Handler) historyFor(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		badRequest(c, "date must be YYYY-MM-DD")
		return
	}
	rec, err := h.Attendance.HistoryFor(c.Request.Context(), date)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", rec)
}

func (h *Handler) archive(c *gin.Context) {
	ctx := c.Request.Context()
	day, err := h.Attendance.EnsureDay(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	rec, created, err := h.Attendance.Archive(ctx, day.Date)
	if err != nil {
		fail(c, err)
		return
	}
	if !created {
		ok(c, http.StatusOK, "attendance for "+rec.Date+" was already archived", rec)
		return
	}
	ok(c, http.StatusCreated, "attendance archived for "+rec.Date, rec)
}

// ---------- Admin ----------

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	if err := h.Admin.Verify(req.Email, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid email or password"})
		return
	}
	tok, err := auth.Issue(h.Admin.Email, h.Admin.Name, auth.RoleAdmin, h.Issuer, h.SigningKey, h.AccessTTL)
	if err != nil {
		log.Printf("token issue failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "login failed"})
		return
	}
	ok(c, http.StatusOK, "", gin.H{
		"token":     tok.Value,
		"expiresAt": tok.ExpiresAt,
		"admin":     gin.H{"email": h.Admin.Email, "name": h.Admin.Name, "role": auth.RoleAdmin},
	})
}

func (h *Handler) verify(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ok(c, http.StatusOK, "", gin.H{
		"admin": gin.H{"email": claims.Subject, "name": claims.Name, "role": claims.Role},
	})
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.Roster.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if students == nil {
		students = []roster.Student{}
	}
	ok(c, http.StatusOK, "", students)
}

type addStudentRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) addStudent(c *gin.Context) {
	var req addStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "student name is required")
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	st, err := h.Roster.Add(c.Request.Context(), req.Name, claims.Subject)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, "student "+st.Name+" added", st)
}

func (h *Handler) updateStudent(c *gin.Context) {
	var p roster.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	st, err := h.Roster.Update(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "student updated", st)
}

func (h *Handler) deleteStudent(c *gin.Context) {
	if err := h.Roster.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "student deleted", nil)
}

func (h *Handler) reset(c *gin.Context) {
	ctx := c.Request.Context()
	day, err := h.Attendance.EnsureDay(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	sum, err := h.Attendance.Reset(ctx, day.Date)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "all attendance has been reset", gin.H{"date": day.Date, "summary": sum})
}

type bulkRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) bulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "action is required")
		return
	}
	status, err := attendance.ParseIntent(req.Action)
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	day, err := h.Attendance.EnsureDay(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.Attendance.BulkSetStatus(ctx, day.Date, status)
	if err != nil {
		fail(c, err)
		return
	}
	msg := "marked " + strconv.Itoa(res.Updated) + " students as " + status.String()
	ok(c, http.StatusOK, msg, res)
}

func (h *Handler) refresh(c *gin.Context) {
	if err := h.Jobs.Enqueue(c.Request.Context(), scheduler.JobRefresh); err != nil {
		log.Printf("enqueue refresh failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "could not schedule refresh"})
		return
	}
	ok(c, http.StatusAccepted, "refresh scheduled", nil)
}

func (h *Handler) clearAll(c *gin.Context) {
	if err := h.Attendance.ClearAll(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "all attendance data cleared", nil)
}

// ---------- Envelope ----------

func ok(c *gin.Context, code int, message string, data any) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	if data != nil {
		body["data"] = data
	}
	c.JSON(code, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

// fail maps domain errors onto HTTP statuses. Unexpected errors are logged
// and reported without detail.
func fail(c *gin.Context, err error) {
	var code int
	switch {
	case errors.Is(err, attendance.ErrNotFound), errors.Is(err, roster.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, attendance.ErrInvalidArgument),
		errors.Is(err, attendance.ErrEmptyRoster),
		errors.Is(err, roster.ErrInvalidName):
		code = http.StatusBadRequest
	case errors.Is(err, roster.ErrConflict):
		code = http.StatusConflict
	default:
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	c.JSON(code, gin.H{"success": false, "message": err.Error()})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
