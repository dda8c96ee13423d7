package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/quantumctl/pulsec/internal/exp"
)

// requestHash derives the cache key from everything that influences the
// compiler output. The encoding walks every input in a canonical order, so
// the same request always hashes the same and any semantic change misses.
func requestHash(req Request, opts Options) string {
	h := sha256.New()

	fmt.Fprintf(h, "strict=%t\n", opts.StrictFeedback)

	fmt.Fprintf(h, "experiment=%s\n", req.Experiment.UID)
	for _, s := range req.Experiment.Signals {
		fmt.Fprintf(h, "signal=%s\n", s)
	}
	hashNode(h, req.Experiment.Root)

	for _, uid := range req.Setup.DeviceUIDs() {
		fmt.Fprintf(h, "device=%s class=%s\n", uid, req.Setup.Devices[uid].Class)
	}
	fmt.Fprintf(h, "hub=%s\n", req.Setup.Hub)

	paths := make([]string, 0, len(req.Setup.Signals))
	for p := range req.Setup.Signals {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		line := req.Setup.Signals[p]
		fmt.Fprintf(h, "line=%s dev=%s port=%d kind=%s\n", p, line.Device, line.Port, line.Kind)
	}

	names := make([]string, 0, len(req.SignalMap))
	for n := range req.SignalMap {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(h, "map=%s->%s\n", n, req.SignalMap[n])
	}

	calLines := make([]string, 0, len(req.Calibration))
	for p := range req.Calibration {
		calLines = append(calLines, p)
	}
	sort.Strings(calLines)
	for _, p := range calLines {
		cal := req.Calibration[p]
		fmt.Fprintf(h, "cal=%s lo=%.12g pd=%.12g range=%.12g\n", p, cal.LOFrequency, cal.PortDelay, cal.Range)
		if cal.Threshold != nil {
			fmt.Fprintf(h, "threshold=%.12g\n", *cal.Threshold)
		}
		if osc := cal.Oscillator; osc != nil {
			fmt.Fprintf(h, "osc=%s mod=%s ", osc.UID, osc.Modulation)
			hashValue(h, osc.Frequency)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func hashNode(w io.Writer, n exp.Node) {
	switch t := n.(type) {
	case *exp.Play:
		fmt.Fprintf(w, "play=%s sig=%s pulse=%s fn=%s len=%.12g amp=%.12g ph=%.12g sigma=%.12g beta=%.12g width=%.12g nsamp=%d ",
			t.UID, t.Sig, t.Pulse.UID, t.Pulse.Function, t.Pulse.Length, t.Pulse.Amplitude,
			t.Pulse.Phase, t.Pulse.Sigma, t.Pulse.Beta, t.Pulse.Width, len(t.Pulse.Samples))
		if t.Amplitude != nil {
			fmt.Fprint(w, "amp:")
			hashValue(w, *t.Amplitude)
		}
		if t.Length != nil {
			fmt.Fprint(w, "len:")
			hashValue(w, *t.Length)
		}
		if t.Phase != nil {
			fmt.Fprintf(w, "phase=%.12g ", *t.Phase)
		}
		if t.SetOscillatorPhase != nil {
			fmt.Fprintf(w, "setph=%.12g ", *t.SetOscillatorPhase)
		}
		if t.IncrementOscillatorPhase != nil {
			fmt.Fprintf(w, "incph=%.12g ", *t.IncrementOscillatorPhase)
		}
		fmt.Fprintln(w)
	case *exp.Delay:
		fmt.Fprintf(w, "delay=%s sig=%s ", t.UID, t.Sig)
		hashValue(w, t.Time)
		fmt.Fprintln(w)
	case *exp.Acquire:
		kernel := ""
		if t.Kernel != nil {
			kernel = t.Kernel.UID
		}
		fmt.Fprintf(w, "acquire=%s sig=%s handle=%s kernel=%s len=%.12g\n",
			t.UID, t.Sig, t.Handle, kernel, t.Length)
	case *exp.Reserve:
		fmt.Fprintf(w, "reserve=%s sig=%s\n", t.UID, t.Sig)
	case exp.SectionNode:
		sec := t.Base()
		fmt.Fprintf(w, "section=%s align=%s grid=%t", sec.UID, sec.Alignment, sec.OnSystemGrid)
		if sec.Length != nil {
			fmt.Fprintf(w, " len=%.12g", *sec.Length)
		}
		for _, pa := range sec.PlayAfter {
			fmt.Fprintf(w, " after=%s", pa)
		}
		for _, tr := range sec.Triggers {
			fmt.Fprintf(w, " trig=%s/%d", tr.Signal, tr.Bit)
		}
		switch v := t.(type) {
		case *exp.Sweep:
			fmt.Fprintf(w, " sweep chunks=%d", v.Chunks)
			for _, p := range v.Parameters {
				fmt.Fprintf(w, " param=%s n=%d", p.UID, len(p.Values))
				for _, x := range p.Values {
					fmt.Fprintf(w, " %.12g", x)
				}
			}
		case *exp.AcquireLoopRt:
			fmt.Fprintf(w, " rt count=%d avg=%s acq=%s", v.Count, v.Averaging, v.Acquisition)
		case *exp.Match:
			fmt.Fprintf(w, " match handle=%s delay=%.12g", v.Handle, v.Delay)
		case *exp.Case:
			fmt.Fprintf(w, " case state=%d", v.State)
		}
		fmt.Fprintln(w)
		for _, c := range sec.Children {
			hashNode(w, c)
		}
		fmt.Fprintf(w, "end=%s\n", sec.UID)
	}
}

func hashValue(w io.Writer, v exp.Value) {
	if v.Param != nil {
		fmt.Fprintf(w, "param=%s n=%d", v.Param.UID, len(v.Param.Values))
		for _, x := range v.Param.Values {
			fmt.Fprintf(w, " %.12g", x)
		}
		fmt.Fprint(w, " ")
		return
	}
	fmt.Fprintf(w, "fixed=%.12g ", v.Fixed)
}
