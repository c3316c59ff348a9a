package service

import "time"

// WaitPolicy turns queue depth into wait estimates. The numbers are operational
// heuristics and callers must present them as such.
type WaitPolicy interface {
	EstimateWaitHours(aheadCount int) float64
	EstimateCompletion(from time.Time, aheadCount int) time.Time
}

// LinearWaitPolicy assumes every task ahead costs the same operator time.
type LinearWaitPolicy struct {
	HoursPerTask float64
	// ServiceHours is the expected time from claim to completion once a task reaches the front.
	ServiceHours float64
}

// DefaultWaitPolicy is half an hour per queued task and two hours of handling.
func DefaultWaitPolicy() LinearWaitPolicy {
	return LinearWaitPolicy{HoursPerTask: 0.5, ServiceHours: 2}
}

func (p LinearWaitPolicy) EstimateWaitHours(aheadCount int) float64 {
	if aheadCount <= 0 || p.HoursPerTask <= 0 {
		return 0
	}
	return float64(aheadCount) * p.HoursPerTask
}

func (p LinearWaitPolicy) EstimateCompletion(from time.Time, aheadCount int) time.Time {
	hours := p.EstimateWaitHours(aheadCount) + p.ServiceHours
	return from.Add(time.Duration(hours * float64(time.Hour)))
}
