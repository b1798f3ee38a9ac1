package ros

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/stereoslam/config"
	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/utils"
)

// Sink consumes the sensor streams of a bag. The builtin SLAM node is a Sink.
type Sink interface {
	HandleLeftImage(ctx context.Context, img slam.Image) error
	HandleRightImage(ctx context.Context, img slam.Image) error
	HandleInertial(ctx context.Context, sample slam.InertialSample) error
	HandleOdometry(ctx context.Context, sample slam.OdometrySample) error
}

// Topics names the bag topics carrying each input stream. Empty topics are not read.
type Topics struct {
	LeftImage  string
	RightImage string
	Imu        string
	Odometry   string
}

// TopicsFromConfig returns the topics the service subscribes to.
func TopicsFromConfig(cfg *config.Config) Topics {
	return Topics{
		LeftImage:  cfg.LeftImageTopicName(),
		RightImage: cfg.RightImageTopicName(),
		Imu:        cfg.ImuTopicName(),
		Odometry:   cfg.OdomTopicName(),
	}
}

// Event is one recorded message, ready to be delivered to a Sink.
type Event struct {
	// Recorded is when the bag recorded the message. Playback is ordered and paced by it.
	Recorded time.Time
	Topic    string
	Deliver  func(ctx context.Context, sink Sink) error
}

// LoadEvents decodes the configured topics of a bag into events sorted by record time. Both image
// topics must be present. Images in unsupported encodings are skipped with a warning.
func LoadEvents(rb *rosbag.RosBag, topics Topics, logger logging.Logger) ([]Event, error) {
	var events []Event

	for _, side := range []struct {
		topic  string
		handle func(Sink, context.Context, slam.Image) error
	}{
		{topics.LeftImage, Sink.HandleLeftImage},
		{topics.RightImage, Sink.HandleRightImage},
	} {
		msgs, err := MessagesForTopic[ImageMessage](rb, side.topic)
		if err != nil {
			return nil, err
		}
		events = append(events, imageEvents(side.topic, msgs, side.handle, logger)...)
	}

	imu, err := optionalTopic[ImuMessage](rb, topics.Imu, logger)
	if err != nil {
		return nil, err
	}
	for i := range imu {
		sample := imu[i].ToInertialSample()
		events = append(events, Event{
			Recorded: imu[i].Meta.Time(),
			Topic:    topics.Imu,
			Deliver: func(ctx context.Context, sink Sink) error {
				return sink.HandleInertial(ctx, sample)
			},
		})
	}

	odom, err := optionalTopic[OdometryMessage](rb, topics.Odometry, logger)
	if err != nil {
		return nil, err
	}
	for i := range odom {
		sample := odom[i].ToOdometrySample()
		events = append(events, Event{
			Recorded: odom[i].Meta.Time(),
			Topic:    topics.Odometry,
			Deliver: func(ctx context.Context, sink Sink) error {
				return sink.HandleOdometry(ctx, sample)
			},
		})
	}

	SortEvents(events)
	return events, nil
}

func imageEvents(
	topic string,
	msgs []ImageMessage,
	handle func(Sink, context.Context, slam.Image) error,
	logger logging.Logger,
) []Event {
	events := make([]Event, 0, len(msgs))
	for i := range msgs {
		img, err := msgs[i].ToImage()
		if err != nil {
			logger.Warnw("skipping image", "topic", topic, "index", i, "error", err)
			continue
		}
		events = append(events, Event{
			Recorded: msgs[i].Meta.Time(),
			Topic:    topic,
			Deliver: func(ctx context.Context, sink Sink) error {
				return handle(sink, ctx, img)
			},
		})
	}
	return events
}

func optionalTopic[T any](rb *rosbag.RosBag, topic string, logger logging.Logger) ([]T, error) {
	if topic == "" {
		return nil, nil
	}
	msgs, err := MessagesForTopic[T](rb, topic)
	if errors.Is(err, errNoMessages) {
		logger.Debugw("bag has no messages for topic", "topic", topic)
		return nil, nil
	}
	return msgs, err
}

// SortEvents orders events by record time, keeping the relative order of simultaneous events.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Recorded.Before(events[j].Recorded)
	})
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithRate replays at rate times the recorded speed. A rate of zero, the default, delivers events
// as fast as the sink accepts them.
func WithRate(rate float64) PlayerOption {
	return func(p *Player) {
		p.rate = rate
	}
}

// WithPlayerClock sets the clock used to pace playback.
func WithPlayerClock(clk clock.Clock) PlayerOption {
	return func(p *Player) {
		p.clock = clk
	}
}

// Player delivers recorded events to a Sink in record order.
type Player struct {
	sink    Sink
	events  []Event
	logger  logging.Logger
	clock   clock.Clock
	rate    float64
	played  atomic.Int64
	workers *utils.StoppableWorkers
}

// NewPlayer returns a player for events, which must already be sorted.
func NewPlayer(sink Sink, events []Event, logger logging.Logger, opts ...PlayerOption) *Player {
	p := &Player{sink: sink, events: events, logger: logger, clock: clock.New()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Played returns how many events have been delivered.
func (p *Player) Played() int64 {
	return p.played.Load()
}

// Play delivers every event and returns once the last one is delivered, the context is done, or
// the sink fails.
func (p *Player) Play(ctx context.Context) error {
	start := time.Now()
	var first time.Time
	for i, ev := range p.events {
		if i == 0 {
			first = ev.Recorded
		} else if p.rate > 0 {
			gap := time.Duration(float64(ev.Recorded.Sub(p.events[i-1].Recorded)) / p.rate)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-p.clock.After(gap):
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ev.Deliver(ctx, p.sink); err != nil {
			return errors.Wrapf(err, "delivering %s message %d", ev.Topic, i)
		}
		p.played.Inc()
	}
	if len(p.events) > 0 {
		p.logger.Infow("finished replay",
			"events", len(p.events),
			"recorded_span", p.events[len(p.events)-1].Recorded.Sub(first),
			"elapsed", time.Since(start),
		)
	}
	return nil
}

// Start plays in the background until Stop is called or playback ends.
func (p *Player) Start(ctx context.Context) {
	p.workers = utils.NewStoppableWorkers(ctx)
	p.workers.Add(p.Play)
}

// Wait blocks until background playback ends.
func (p *Player) Wait() error {
	if p.workers == nil {
		return nil
	}
	return p.workers.Wait()
}

// Stop ends background playback.
func (p *Player) Stop() error {
	if p.workers == nil {
		return nil
	}
	return p.workers.Stop()
}
