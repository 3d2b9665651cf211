package sd

import (
	"math/rand"
	"time"
)

// Phase is one of the three sequential SD phases spec.md §4.4 defines for
// both local offers and remote finds.
type Phase int

const (
	PhaseInitialWait Phase = iota
	PhaseRepetition
	PhaseMain
)

// timing holds the configurable SD phase delays, grounded on spec.md §4.4's
// named constants and defaults.
type timing struct {
	InitialDelayMin    time.Duration
	InitialDelayMax    time.Duration
	RepetitionsMax     int
	RepetitionBaseWait time.Duration
	CyclicOfferDelay   time.Duration
}

func defaultTiming() timing {
	return timing{
		InitialDelayMin:    DefaultInitialDelayMin,
		InitialDelayMax:    DefaultInitialDelayMax,
		RepetitionsMax:     DefaultRepetitionsMax,
		RepetitionBaseWait: DefaultRepetitionBaseWait,
		CyclicOfferDelay:   DefaultCyclicOfferDelay,
	}
}

// phaseTimer tracks the shared Initial-Wait -> Repetition -> Main schedule
// used by both local offers (sending OfferService) and remote finds
// (sending FindService).
type phaseTimer struct {
	phase           Phase
	repetitionsSent int
	nextDeadline    time.Time
	rng             *rand.Rand
}

func newPhaseTimer(now time.Time, t timing, rng *rand.Rand) phaseTimer {
	delayRange := t.InitialDelayMax - t.InitialDelayMin
	var jitter time.Duration
	if delayRange > 0 {
		jitter = time.Duration(rng.Int63n(int64(delayRange)))
	}
	return phaseTimer{
		phase:        PhaseInitialWait,
		nextDeadline: now.Add(t.InitialDelayMin + jitter),
		rng:          rng,
	}
}

// advance moves nextDeadline to the next send after a send fires. It is
// only called once nextDeadline has elapsed.
func (p *phaseTimer) advance(t timing) {
	switch p.phase {
	case PhaseInitialWait:
		p.phase = PhaseRepetition
		p.repetitionsSent = 0
		p.nextDeadline = p.nextDeadline.Add(t.RepetitionBaseWait)
	case PhaseRepetition:
		p.repetitionsSent++
		if p.repetitionsSent >= t.RepetitionsMax {
			p.phase = PhaseMain
			p.nextDeadline = p.nextDeadline.Add(t.CyclicOfferDelay)
		} else {
			// Exponential backoff: base, 2*base, 4*base, ... (30, 60, 120ms).
			backoff := t.RepetitionBaseWait << uint(p.repetitionsSent)
			p.nextDeadline = p.nextDeadline.Add(backoff)
		}
	case PhaseMain:
		p.nextDeadline = p.nextDeadline.Add(t.CyclicOfferDelay)
	}
}

// reset restarts the timer at Initial-Wait, used when a consumer's offer
// TTL elapses without refresh (spec.md §4.4) or a provider restarts after
// StopOffer.
func (p *phaseTimer) reset(now time.Time, t timing) {
	*p = newPhaseTimer(now, t, p.rng)
}
