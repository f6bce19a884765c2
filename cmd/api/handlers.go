package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"classmark/internal/auth"
	"classmark/internal/config"
	"classmark/internal/descriptor"
	"classmark/internal/division"
	"classmark/internal/engine"
	"classmark/internal/faceclient"
	"classmark/internal/history"
	"classmark/internal/leave"
	"classmark/internal/localstore"
	"classmark/internal/queue"
	"classmark/internal/recognition"
	"classmark/internal/session"
	"classmark/internal/teaching"
	"classmark/internal/tree"
)

// api owns the shared collaborators and the per-account device contexts.
type api struct {
	cfg    config.App
	remote tree.Store // nil when local-only
	local  *localstore.DB
	face   *faceclient.Client
	pushes queue.Queue
	hist   *history.Repository

	mu      sync.Mutex
	devices map[string]*device
}

// device is one account's live attendance context: tracker, gate, engine,
// and recognition loop. Mirrors one browser/device session.
type device struct {
	claims  auth.Claims
	tracker *teaching.Tracker
	gate    *session.Gate
	store   descriptor.Store
	eng     *engine.Engine
	loop    *recognition.Loop
	src     *recognition.ChannelSource
	leaves  *leave.Service
}

func newAPI(cfg config.App, remote tree.Store, local *localstore.DB, face *faceclient.Client, pushes queue.Queue, hist *history.Repository) *api {
	return &api{
		cfg:     cfg,
		remote:  remote,
		local:   local,
		face:    face,
		pushes:  pushes,
		hist:    hist,
		devices: make(map[string]*device),
	}
}

func (a *api) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for subject, d := range a.devices {
		d.teardown()
		delete(a.devices, subject)
	}
}

func (d *device) teardown() {
	d.loop.Stop()
	_ = d.gate.Close()
	_ = d.tracker.Close()
}

// ensureDevice returns the caller's device context, creating it on first use.
func (a *api) ensureDevice(c *gin.Context) *device {
	claims := auth.ClaimsFrom(c)
	a.mu.Lock()
	defer a.mu.Unlock()
	if d, ok := a.devices[claims.Subject]; ok {
		return d
	}

	tracker := teaching.NewTracker(claims.Role, a.remote, a.local.Collection("teaching:"+claims.Subject))

	var store descriptor.Store
	if a.remote != nil {
		store = descriptor.NewRemote(a.remote, func() division.Tuple { return tracker.Current().Tuple })
	} else {
		store = descriptor.NewLocal(a.local)
	}

	eng := engine.New(claims.Role, claims.Subject, store, tracker, a.remote, a.pushes, a.hist)
	tracker.OnReset(eng.ResetAttendance)
	tracker.OnDivisionChanged(eng.DivisionChanged)

	gate := session.NewGate(a.remote, tracker, claims)
	loop := recognition.NewLoop(a.face, eng, gate, a.cfg.FrameInterval)
	gate.OnInvalidated(func(string) { loop.Stop() })

	d := &device{
		claims:  claims,
		tracker: tracker,
		gate:    gate,
		store:   store,
		eng:     eng,
		loop:    loop,
		src:     recognition.NewChannelSource(8),
		leaves:  leave.NewService(a.remote, tracker),
	}

	ctx := context.Background()
	if claims.Role.Student() && claims.Division.Complete() {
		tracker.SetDivision(ctx, claims.Division)
	}
	if err := tracker.Start(ctx); err != nil {
		log.Printf("api: tracker start for %s: %v", claims.Subject, err)
	}
	if err := eng.RebuildMatcher(ctx); err != nil {
		log.Printf("api: initial matcher build for %s: %v", claims.Subject, err)
	}

	a.devices[claims.Subject] = d
	return d
}

// login issues tokens for a verified identity. Identity verification itself
// belongs to the external provider; this endpoint trusts its caller in dev.
func (a *api) login(c *gin.Context) {
	var req struct {
		Subject  string         `json:"subject" binding:"required"`
		Name     string         `json:"name" binding:"required"`
		Email    string         `json:"email"`
		Role     auth.Role      `json:"role" binding:"required"`
		Division division.Tuple `json:"division"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role.Student() && !req.Division.Complete() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "students require a complete division"})
		return
	}
	tokens, err := auth.Issue(req.Subject, req.Name, req.Email, req.Role, req.Division,
		a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (a *api) getContext(c *gin.Context) {
	d := a.ensureDevice(c)
	c.JSON(http.StatusOK, d.tracker.Current())
}

func (a *api) pullContext(c *gin.Context) {
	d := a.ensureDevice(c)
	if err := d.eng.PullContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d.tracker.Current())
}

func (a *api) setDivision(c *gin.Context) {
	var req division.Tuple
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Complete() {
		c.JSON(http.StatusBadRequest, gin.H{"error": division.ErrNotSelected.Error()})
		return
	}
	d := a.ensureDevice(c)
	if !d.tracker.SetDivision(c.Request.Context(), req) {
		c.JSON(http.StatusConflict, gin.H{"error": "context already synced, division is owned remotely"})
		return
	}
	c.JSON(http.StatusOK, d.tracker.Current())
}

func (a *api) issueSession(c *gin.Context) {
	var req struct {
		TTL string `json:"ttl"`
	}
	_ = c.ShouldBindJSON(&req)
	ttl := a.cfg.SessionTTL
	if req.TTL != "" {
		if parsed, err := time.ParseDuration(req.TTL); err == nil && parsed > 0 {
			ttl = parsed
		}
	}
	d := a.ensureDevice(c)
	tctx := d.tracker.Current()
	reg, err := session.Issue(c.Request.Context(), a.remote, tctx.Tuple, tctx.Subject, tctx.Month, tctx.Year, tctx.Day, ttl)
	if err != nil {
		c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, reg)
}

func (a *api) scanSession(c *gin.Context) {
	var req struct {
		Token json.RawMessage `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := a.ensureDevice(c)
	if err := d.gate.ScanToken(c.Request.Context(), req.Token); err != nil {
		c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": d.gate.SessionID(), "context": d.tracker.Current()})
}

func (a *api) submitCode(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := a.ensureDevice(c)
	if err := d.gate.SubmitCode(c.Request.Context(), req.Code); err != nil {
		c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"permitted": d.gate.Permitted()})
}

func (a *api) issueCode(c *gin.Context) {
	code, err := session.IssueCode(c.Request.Context(), a.remote, a.cfg.CodeTTL)
	if err != nil {
		c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": code, "ttl": a.cfg.CodeTTL.String()})
}

// enroll registers one person from one or more still images. mode resolves
// duplicate identities: "merge" appends descriptors, "replace" starts over,
// anything else reports the conflict for the caller to decide.
func (a *api) enroll(c *gin.Context) {
	var req struct {
		ID     string   `json:"id" binding:"required"`
		Name   string   `json:"name" binding:"required"`
		Images []string `json:"images" binding:"required,min=1"`
		Mode   string   `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := a.ensureDevice(c)
	ctx := c.Request.Context()

	var descriptors [][]float64
	var preview string
	for _, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "images must be base64"})
			return
		}
		det, err := a.face.DetectOne(ctx, data)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if det == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in image"})
			return
		}
		descriptors = append(descriptors, det.Descriptor)
		if preview == "" {
			preview = img
		}
	}

	var rec descriptor.Record
	var err error
	switch req.Mode {
	case "merge":
		rec, err = d.store.MergeBulk(ctx, req.ID, req.Name, descriptors, preview)
	case "replace":
		if err := d.store.Remove(ctx, req.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rec, err = d.store.SaveBulk(ctx, req.ID, req.Name, descriptors, preview)
	default:
		rec, err = d.store.SaveBulk(ctx, req.ID, req.Name, descriptors, preview)
	}
	switch {
	case errors.Is(err, descriptor.ErrDuplicateIdentity):
		c.JSON(http.StatusConflict, gin.H{
			"error":   err.Error(),
			"choices": []string{"merge", "replace"},
		})
		return
	case errors.Is(err, division.ErrNotSelected):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.eng.RebuildMatcher(ctx); err != nil {
		log.Printf("api: matcher rebuild after enroll: %v", err)
	}
	c.JSON(http.StatusCreated, rec)
}

func (a *api) roster(c *gin.Context) {
	d := a.ensureDevice(c)
	entries, err := d.eng.Roster(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roster": entries})
}

func (a *api) stats(c *gin.Context) {
	d := a.ensureDevice(c)
	s, err := d.eng.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *api) removePerson(c *gin.Context) {
	d := a.ensureDevice(c)
	if err := d.store.Remove(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := d.eng.RebuildMatcher(c.Request.Context()); err != nil {
		log.Printf("api: matcher rebuild after remove: %v", err)
	}
	c.Status(http.StatusNoContent)
}

func (a *api) clearPeople(c *gin.Context) {
	d := a.ensureDevice(c)
	if err := d.store.ClearAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := d.eng.RebuildMatcher(c.Request.Context()); err != nil {
		log.Printf("api: matcher rebuild after clear: %v", err)
	}
	c.Status(http.StatusNoContent)
}

func (a *api) startRecognition(c *gin.Context) {
	d := a.ensureDevice(c)
	if err := d.loop.Start(context.Background(), d.src); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": d.loop.Running()})
}

func (a *api) stopRecognition(c *gin.Context) {
	d := a.ensureDevice(c)
	d.loop.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// ingestFrame accepts one camera frame. While the loop runs, frames feed its
// source; otherwise the frame is processed synchronously and results are
// returned to the caller.
func (a *api) ingestFrame(c *gin.Context) {
	var req struct {
		Frame string `json:"frame" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := base64.StdEncoding.DecodeString(req.Frame)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame must be base64"})
		return
	}
	d := a.ensureDevice(c)
	if d.loop.Running() {
		if !d.src.Offer(frame) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "frame buffer full"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
		return
	}
	results, err := d.loop.ProcessFrame(c.Request.Context(), frame)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (a *api) pushSnapshot(c *gin.Context) {
	d := a.ensureDevice(c)
	if err := d.eng.PushSnapshot(c.Request.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, division.ErrNotSelected) {
			status = http.StatusPreconditionFailed
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pushed": true})
}

func (a *api) listHistory(c *gin.Context) {
	if a.hist == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history database not configured"})
		return
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	day := 0
	if v := c.Query("day"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			day = parsed
		}
	}
	events, err := a.hist.List(c.Request.Context(), c.Query("student_id"), c.Query("subject"), day, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (a *api) submitLeave(c *gin.Context) {
	var req struct {
		StudentID   string `json:"studentId"`
		StudentName string `json:"studentName"`
		FromDate    string `json:"fromDate" binding:"required"`
		ToDate      string `json:"toDate" binding:"required"`
		Reason      string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := a.ensureDevice(c)
	claims := d.claims
	// Students file for themselves; staff may file on a student's behalf.
	if claims.Role.Student() || req.StudentID == "" {
		req.StudentID = claims.Subject
		req.StudentName = claims.Name
	}
	from, err := time.Parse("2006-01-02", req.FromDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fromDate must be YYYY-MM-DD"})
		return
	}
	to, err := time.Parse("2006-01-02", req.ToDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "toDate must be YYYY-MM-DD"})
		return
	}
	app, err := d.leaves.Submit(c.Request.Context(), req.StudentID, req.StudentName, from, to, req.Reason, claims.Subject)
	if err != nil {
		c.JSON(leaveStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, app)
}

func (a *api) listLeaves(c *gin.Context) {
	d := a.ensureDevice(c)
	studentID := c.Query("student_id")
	if d.claims.Role.Student() {
		studentID = d.claims.Subject
	}
	apps, err := d.leaves.List(c.Request.Context(), studentID)
	if err != nil {
		c.JSON(leaveStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaves": apps})
}

func (a *api) getLeave(c *gin.Context) {
	d := a.ensureDevice(c)
	app, err := d.leaves.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(leaveStatus(err), gin.H{"error": err.Error()})
		return
	}
	if d.claims.Role.Student() && app.StudentID != d.claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your application"})
		return
	}
	c.JSON(http.StatusOK, app)
}

func (a *api) approveLeave(c *gin.Context) {
	d := a.ensureDevice(c)
	app, err := d.leaves.Approve(c.Request.Context(), c.Param("id"), d.claims.Subject)
	if err != nil {
		c.JSON(leaveStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app)
}

func (a *api) rejectLeave(c *gin.Context) {
	d := a.ensureDevice(c)
	app, err := d.leaves.Reject(c.Request.Context(), c.Param("id"), d.claims.Subject)
	if err != nil {
		c.JSON(leaveStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app)
}

func (a *api) deleteLeave(c *gin.Context) {
	d := a.ensureDevice(c)
	if err := d.leaves.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(leaveStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// closeDevice tears down the caller's device context: listeners detached,
// session forgotten, cached context dropped for students.
func (a *api) closeDevice(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	a.mu.Lock()
	d, ok := a.devices[claims.Subject]
	if ok {
		delete(a.devices, claims.Subject)
	}
	a.mu.Unlock()
	if ok {
		d.teardown()
	}
	c.Status(http.StatusNoContent)
}

// sessionStatus maps gate errors onto HTTP statuses.
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrWrongDivision):
		return http.StatusForbidden
	case errors.Is(err, session.ErrSessionInvalid), errors.Is(err, session.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNoCodeActive), errors.Is(err, session.ErrCodeExpired), errors.Is(err, session.ErrCodeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, division.ErrNotSelected):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func leaveStatus(err error) int {
	switch {
	case errors.Is(err, leave.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, leave.ErrNotPending), errors.Is(err, leave.ErrNotTerminal):
		return http.StatusConflict
	case errors.Is(err, division.ErrNotSelected):
		return http.StatusPreconditionFailed
	case errors.Is(err, tree.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
