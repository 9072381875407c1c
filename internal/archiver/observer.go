package archiver

import (
	"time"

	"github.com/inovacc/tfsarchive/internal/model"
)

// EventKind identifies an archiver event
type EventKind int

const (
	EventRunStarted EventKind = iota
	EventDiscovered
	EventPlanned
	EventStageStarted
	EventOutput
	EventTaskFinished
	EventRunFinished
)

func (k EventKind) String() string {
	switch k {
	case EventRunStarted:
		return "run-started"
	case EventDiscovered:
		return "discovered"
	case EventPlanned:
		return "planned"
	case EventStageStarted:
		return "stage-started"
	case EventOutput:
		return "output"
	case EventTaskFinished:
		return "task-finished"
	case EventRunFinished:
		return "run-finished"
	}

	return "unknown"
}

// Event is delivered to observers. Task is a copy and safe to retain.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Repo    string
	Stage   model.Stage
	Task    *model.ArchivalTask
	Index   int // 1-based position of the task in the plan
	Total   int
	Message string
	Report  *model.RunReport
}

// Observer receives archiver events. Events are delivered one at a time.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans one event out to several observers.
type Observers []Observer

func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}
