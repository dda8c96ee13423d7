package scheduler

// Event is one entry of the schedule manifest consumed by the pulse-sheet
// renderer and the result assembler. Times are absolute reference-clock
// ticks.
type EventType string

const (
	EventSectionStart  EventType = "SECTION_START"
	EventSectionEnd    EventType = "SECTION_END"
	EventPlayStart     EventType = "PLAY_START"
	EventPlayEnd       EventType = "PLAY_END"
	EventDelayStart    EventType = "DELAY_START"
	EventDelayEnd      EventType = "DELAY_END"
	EventAcquireStart  EventType = "ACQUIRE_START"
	EventAcquireEnd    EventType = "ACQUIRE_END"
	EventReserve       EventType = "RESERVE"
	EventLoopStepStart EventType = "LOOP_STEP_START"
	EventLoopStepEnd   EventType = "LOOP_STEP_END"
	EventLoopIterEnd   EventType = "LOOP_ITERATION_END"
	EventParameterSet  EventType = "PARAMETER_SET"
	EventMatchStart    EventType = "MATCH_START"
	EventMatchEnd      EventType = "MATCH_END"
	EventCaseStart     EventType = "CASE_START"
	EventCaseEnd       EventType = "CASE_END"
)

type Event struct {
	Type      EventType
	Time      int64
	Node      string
	Signal    string
	Device    string
	Handle    string
	Iteration int
	Repeat    int // sequential-averaging pass index
	Shadow    bool
	State     int
	Param     string
	Value     float64
}

// Events flattens the schedule into the manifest event list. With
// expandRepeats, sequential-averaging repeats are emitted as shadow passes
// so consumers can see the execution order of averaging versus sweeping.
func (s *Schedule) Events(expandRepeats bool) []Event {
	var out []Event
	emitNode(&out, s.Root, expandRepeats)
	return out
}

func emitNode(out *[]Event, n *Node, expandRepeats bool) {
	switch n.Kind {
	case KindPlay:
		*out = append(*out,
			Event{Type: EventPlayStart, Time: n.Start, Node: n.UID, Signal: n.Signal, Device: n.Device},
			Event{Type: EventPlayEnd, Time: n.End, Node: n.UID, Signal: n.Signal, Device: n.Device})
	case KindDelay:
		*out = append(*out,
			Event{Type: EventDelayStart, Time: n.Start, Node: n.UID, Signal: n.Signal, Device: n.Device},
			Event{Type: EventDelayEnd, Time: n.End, Node: n.UID, Signal: n.Signal, Device: n.Device})
	case KindAcquire:
		*out = append(*out,
			Event{Type: EventAcquireStart, Time: n.Start, Node: n.UID, Signal: n.Signal, Device: n.Device, Handle: n.Handle},
			Event{Type: EventAcquireEnd, Time: n.End, Node: n.UID, Signal: n.Signal, Device: n.Device, Handle: n.Handle})
	case KindReserve:
		*out = append(*out, Event{Type: EventReserve, Time: n.Start, Node: n.UID, Signal: n.Signal, Device: n.Device})
	case KindIteration:
		repeats := 1
		if expandRepeats && n.RepeatCount > 1 {
			repeats = n.RepeatCount
		}
		for rep := 0; rep < repeats; rep++ {
			shadow := n.Shadow || rep > 0
			*out = append(*out, Event{
				Type: EventLoopStepStart, Time: n.Start, Node: n.UID,
				Iteration: n.Iteration, Repeat: rep, Shadow: shadow,
			})
			for _, pv := range n.ParamValues {
				*out = append(*out, Event{
					Type: EventParameterSet, Time: n.Start, Node: n.UID,
					Iteration: n.Iteration, Param: pv.UID, Value: pv.Value, Shadow: shadow,
				})
			}
			for _, c := range n.Children {
				emitNode(out, c, expandRepeats)
			}
			*out = append(*out, Event{
				Type: EventLoopStepEnd, Time: n.End, Node: n.UID,
				Iteration: n.Iteration, Repeat: rep, Shadow: shadow,
			})
			if n.Iteration == 0 && rep == 0 {
				*out = append(*out, Event{Type: EventLoopIterEnd, Time: n.End, Node: n.UID})
			}
		}
	case KindMatch:
		*out = append(*out, Event{Type: EventMatchStart, Time: n.Start, Node: n.UID, Handle: n.Handle})
		for _, c := range n.Children {
			emitNode(out, c, expandRepeats)
		}
		*out = append(*out, Event{Type: EventMatchEnd, Time: n.End, Node: n.UID, Handle: n.Handle})
	case KindCase:
		*out = append(*out, Event{Type: EventCaseStart, Time: n.Start, Node: n.UID, State: n.State})
		for _, c := range n.Children {
			emitNode(out, c, expandRepeats)
		}
		*out = append(*out, Event{Type: EventCaseEnd, Time: n.End, Node: n.UID, State: n.State})
	default:
		*out = append(*out, Event{Type: EventSectionStart, Time: n.Start, Node: n.UID})
		for _, c := range n.Children {
			emitNode(out, c, expandRepeats)
		}
		*out = append(*out, Event{Type: EventSectionEnd, Time: n.End, Node: n.UID})
	}
}
