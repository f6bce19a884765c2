// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesProcessed counts frames run through the recognition loop.
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmark_frames_processed_total",
		Help: "Frames sampled and sent to the face model.",
	})

	// FacesMatched counts detections matched to an enrolled person.
	FacesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmark_faces_matched_total",
		Help: "Detections matched below the distance threshold.",
	})

	// FacesUnknown counts detections above the distance threshold.
	FacesUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmark_faces_unknown_total",
		Help: "Detections with no acceptable match.",
	})

	// MarksAccepted counts presence marks written locally.
	MarksAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmark_marks_accepted_total",
		Help: "Presence marks accepted by the reconciliation engine.",
	})

	// PushFailures counts remote attendance pushes that were abandoned.
	PushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmark_push_failures_total",
		Help: "Best-effort remote pushes that failed or timed out.",
	})

	// ContextResets counts attendance wipes triggered by context changes.
	ContextResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmark_context_resets_total",
		Help: "Attendance resets caused by teaching context changes.",
	})

	// PresentToday tracks the roster's current present count.
	PresentToday = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classmark_present_today",
		Help: "People currently marked present for the active context.",
	})
)
