package query

// Feeder threads one event at a time through a compiled pipeline of
// Processors, matching the original's feed(Some(v))/feed(None) contract:
// Feed(&v) sends one input through every stage and collects its results;
// Feed(nil) signals end-of-stream and triggers every stage's Flush in turn.
type Feeder struct {
	processors []Processor
}

// NewFeeder compiles stages into a ready-to-run pipeline.
func NewFeeder(stages []Operation) *Feeder {
	processors := make([]Processor, len(stages))
	for i, op := range stages {
		processors[i] = op.compile()
	}
	return &Feeder{processors: processors}
}

type feedItem struct {
	end bool
	val Value
	err error
}

// Feed pushes input through every stage, or — if input is nil — flushes
// every stage in turn, each stage's flush output itself flowing through the
// remaining stages exactly as a live input would.
func (f *Feeder) Feed(input *Value) []Result {
	root := NewContext()
	cx := root
	var items []feedItem
	if input != nil {
		items = []feedItem{{val: *input}}
	} else {
		items = []feedItem{{end: true}}
	}

	for _, proc := range f.processors {
		cx = cx.Child()
		var output []feedItem
		for _, it := range items {
			switch {
			case it.err != nil:
				output = append(output, it)
			case it.end:
				for _, r := range proc.Flush(cx) {
					output = append(output, feedItem{val: r.Value, err: r.Err})
				}
				output = append(output, feedItem{end: true})
			default:
				cx.Bind("_", it.val)
				for _, r := range proc.Apply(cx, it.val) {
					output = append(output, feedItem{val: r.Value, err: r.Err})
				}
			}
		}
		items = output
		if len(items) == 0 {
			break
		}
	}

	results := make([]Result, 0, len(items))
	for _, it := range items {
		if it.end {
			continue
		}
		results = append(results, Result{Value: it.val, Err: it.err})
	}
	return results
}

// Done reports whether every Limit stage in the pipeline has already
// forwarded its quota, so the caller can stop feeding further input (spec:
// "Limit(n): forward at most n then signal end-of-stream upstream").
func (f *Feeder) Done() bool {
	for _, proc := range f.processors {
		if l, ok := proc.(*limitProcessor); ok && l.Done() {
			return true
		}
	}
	return false
}
