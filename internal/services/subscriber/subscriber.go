// Package subscriber is the terminal client: it prints every reading and
// turns prompt lines into device commands.
package subscriber

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Nourkes/iot-project/internal/model"
)

var (
	ErrUnknownInput = errors.New("unknown command")
	ErrBadInterval  = errors.New("format: i<seconds> (e.g. i10)")
)

const Help = `Commands:
  i<N> - set the sampling interval to N seconds (e.g. i10)
  r    - reboot the sensor
  s    - shut the sensor down
  q    - quit`

// Input is one parsed prompt line.
type Input struct {
	Command *model.Command
	Quit    bool
}

// ParseInput reads "iN", "r", "s" or "q", case-insensitive.
func ParseInput(line string) (Input, error) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch {
	case cmd == "q":
		return Input{Quit: true}, nil
	case cmd == "r":
		return Input{Command: &model.Command{Action: model.ActionReboot}}, nil
	case cmd == "s":
		return Input{Command: &model.Command{Action: model.ActionShutdown}}, nil
	case strings.HasPrefix(cmd, "i"):
		n, err := strconv.Atoi(cmd[1:])
		if err != nil {
			return Input{}, ErrBadInterval
		}
		c := model.NewSetInterval(n)
		return Input{Command: &c}, nil
	}
	return Input{}, ErrUnknownInput
}

// Client is what the subscriber needs from the telemetry client.
type Client interface {
	Readings(ctx context.Context) (<-chan model.Reading, error)
	SendCommand(ctx context.Context, cmd model.Command) (model.DispatchResult, error)
}

// Recorder optionally persists readings.
type Recorder interface {
	Record(ctx context.Context, r model.Reading) error
}

type Service struct {
	client   Client
	recorder Recorder // nil when disabled

	mu    sync.Mutex
	out   io.Writer
	count int
}

func NewService(client Client, recorder Recorder, out io.Writer) *Service {
	return &Service{client: client, recorder: recorder, out: out}
}

// Watch prints readings until ctx is done.
func (s *Service) Watch(ctx context.Context) error {
	readings, err := s.client.Readings(ctx)
	if err != nil {
		return err
	}
	for r := range readings {
		s.print(r)
		if s.recorder != nil {
			if err := s.recorder.Record(ctx, r); err != nil {
				log.Warn().Err(err).Msg("subscriber: record failed")
			}
		}
	}
	return nil
}

func (s *Service) print(r model.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	bar := strings.Repeat("=", 70)
	fmt.Fprintf(s.out, "\n%s\nMessage #%d\n%s\n", bar, s.count, bar)
	fmt.Fprintf(s.out, "Device ID:    %s\n", r.DeviceID)
	fmt.Fprintf(s.out, "Temperature:  %.2f°C\n", r.Temperature)
	fmt.Fprintf(s.out, "Humidity:     %.2f%%\n", r.Humidity)
	fmt.Fprintf(s.out, "Battery:      %d%%\n", r.Battery)
	fmt.Fprintf(s.out, "Signal:       %d dBm\n", r.SignalStrength)
	fmt.Fprintf(s.out, "Status:       %s\n", r.Status)
	fmt.Fprintf(s.out, "Timestamp:    %s\n%s\n", r.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), bar)
}

func (s *Service) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// Prompt reads commands from in until "q", EOF or ctx is done.
func (s *Service) Prompt(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		s.printf("\n> ")
		if !sc.Scan() {
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}

		input, err := ParseInput(sc.Text())
		if err != nil {
			s.printf("%v\n", err)
			continue
		}
		if input.Quit {
			s.printf("bye\n")
			return nil
		}

		res, err := s.client.SendCommand(ctx, *input.Command)
		switch {
		case err != nil:
			s.printf("send failed: %v\n", err)
		case !res.IsApplied():
			s.printf("rejected: %v\n", res.Err)
		default:
			s.printf("command sent: %s\n", describe(*input.Command))
		}
	}
}

func describe(c model.Command) string {
	if c.Value != nil {
		return fmt.Sprintf("%s %d", c.Action, *c.Value)
	}
	return string(c.Action)
}
