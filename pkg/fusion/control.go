package fusion

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"multiviewfusion/internal/logging"
	"multiviewfusion/internal/models"
	"multiviewfusion/pkg/config"
	"multiviewfusion/pkg/dataset"
	"multiviewfusion/pkg/output"
	"multiviewfusion/pkg/storage"
)

// Control runs fusion channel by channel and dispatches the results.
type Control struct {
	cfg     config.Config
	store   storage.Factory
	display output.Display
	writer  output.Writer

	// engines are kept across channels so their buffers get reused
	engines map[Kind]Engine

	// Summaries records the summary of each emitted volume by name
	Summaries map[string]Summary
}

// NewControl validates cfg and prepares a control. display and writer may be
// nil when the corresponding output mode is off.
func NewControl(cfg *config.Config, store storage.Factory, display output.Display, writer output.Writer) (*Control, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = storage.Array{}
	}
	if cfg.Output.Show && display == nil {
		return nil, errors.New("show output requested without a display")
	}
	if cfg.Output.Write && writer == nil {
		return nil, errors.New("write output requested without a writer")
	}
	return &Control{
		cfg:       *cfg,
		store:     store,
		display:   display,
		writer:    writer,
		engines:   make(map[Kind]Engine),
		Summaries: make(map[string]Summary),
	}, nil
}

// SelectKind chooses the engine variant for a channel with numViews views.
func (c *Control) SelectKind(numViews int) Kind {
	f := c.cfg.Fusion
	switch {
	case f.MultipleOutput && f.Method == "predeconvolution":
		return PreDeconvolution
	case f.MultipleOutput:
		return SequentialPerView
	case f.Method == "max":
		return MaxWeight
	case numViews <= f.ParallelViewThreshold:
		return Parallel
	default:
		return Sequential
	}
}

func (c *Control) engine(kind Kind) (Engine, error) {
	if e, ok := c.engines[kind]; ok {
		return e, nil
	}
	e, err := NewEngine(kind, &c.cfg, c.store)
	if err != nil {
		return nil, err
	}
	c.engines[kind] = e
	return e, nil
}

// Run fuses every channel present in views, in ascending channel order. A
// failed channel is logged and skipped; the returned error joins all
// channel failures.
func (c *Control) Run(views []dataset.View) error {
	byChannel := make(map[int][]dataset.View)
	for _, v := range views {
		byChannel[v.ChannelIndex()] = append(byChannel[v.ChannelIndex()], v)
	}
	channels := make([]int, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var errs []error
	for _, ch := range channels {
		if err := c.FuseChannel(ch, byChannel[ch]); err != nil {
			logging.Logger().Warn("channel failed", "channel", ch, "err", err)
			errs = append(errs, fmt.Errorf("channel %d: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// FuseChannel fuses the views of one channel and dispatches the outputs.
func (c *Control) FuseChannel(channel int, views []dataset.View) error {
	start := time.Now()
	kind := c.SelectKind(len(views))
	e, err := c.engine(kind)
	if err != nil {
		return err
	}

	logging.Logger().Info("fusing channel", "channel", channel, "views", len(views), "engine", kind.String())
	res, err := e.Fuse(views)
	if err != nil {
		return err
	}
	logging.Logger().Info("channel fused", "channel", channel, "elapsed", time.Since(start))

	return c.dispatch(channel, res)
}

func (c *Control) dispatch(channel int, res *Result) error {
	pattern, t := c.cfg.Output.NamePattern, c.cfg.Fusion.Timepoint

	if res.Fused != nil {
		if err := c.emit(output.FormatName(pattern, t, channel, "all"), res.Fused); err != nil {
			return err
		}
	}
	for i, vol := range res.PerView {
		name := output.FormatName(pattern, t, channel, strconv.Itoa(res.Views[i].AngleID()))
		if err := c.emit(name, vol); err != nil {
			return err
		}
	}
	for i, vol := range res.Weights {
		name := output.FormatName(pattern, t, channel, strconv.Itoa(res.Views[i].AngleID())) + "_weights"
		if err := c.emit(name, vol); err != nil {
			return err
		}
	}
	return nil
}

func (c *Control) emit(name string, vol *models.Volume) error {
	s := Summarize(vol)
	c.Summaries[name] = s
	logging.Logger().Info("output", "name", name, "summary", s.String())

	if c.cfg.Output.Show {
		if err := c.display.Show(name, vol, float32(s.Min), float32(s.Max)); err != nil {
			return fmt.Errorf("show %s: %w", name, err)
		}
	}
	if c.cfg.Output.Write {
		if err := c.writer.Write(name, vol); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
