package http

import (
	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
)

// CountPoints summarises the point statuses of a batch. Points that have not
// emitted an event yet are not counted.
func CountPoints(state events.BatchState) PointCounts {
	var c PointCounts
	for _, s := range state.Points {
		c.Total++
		switch s {
		case pipeline.StatusCompleted:
			c.Completed++
		case pipeline.StatusFailed:
			c.Failed++
		default:
			c.InFlight++
		}
	}
	return c
}
