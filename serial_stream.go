package generic_control_toolbox

import (
	"bufio"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// SerialWrenchStreamConfig configures a serial-port sample source.
type SerialWrenchStreamConfig struct {
	Port     string `json:"port"`
	Baudrate int    `json:"baudrate,omitempty"` // default: 115200
}

// Validate ensures all parts of the config are valid.
func (cfg *SerialWrenchStreamConfig) Validate() error {
	if cfg.Port == "" {
		return errors.New("serial port must be specified")
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 115200
	}
	if cfg.Baudrate < 0 {
		return errors.Errorf("baudrate must be positive, got %d", cfg.Baudrate)
	}
	return nil
}

// SerialWrenchStream reads line-framed force/torque samples off a serial
// port and fans them out to topic subscribers. Wire format, one sample per
// line:
//
//	<topic> <frame> <fx> <fy> <fz> <tx> <ty> <tz>
//
// Malformed lines are logged and skipped.
type SerialWrenchStream struct {
	port   serial.Port
	logger logging.Logger
	fanout *FanoutWrenchStream

	closeOnce               sync.Once
	closed                  chan struct{}
	activeBackgroundWorkers sync.WaitGroup
}

func NewSerialWrenchStream(cfg SerialWrenchStreamConfig, logger logging.Logger) (*SerialWrenchStream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baudrate})
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port %s", cfg.Port)
	}

	s := &SerialWrenchStream{
		port:   port,
		logger: logger,
		fanout: NewFanoutWrenchStream(),
		closed: make(chan struct{}),
	}
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(s.readLoop, s.activeBackgroundWorkers.Done)

	logger.Infof("serial wrench stream reading from %s at %d baud", cfg.Port, cfg.Baudrate)
	return s, nil
}

// Subscribe implements WrenchStream.
func (s *SerialWrenchStream) Subscribe(topic string, fn func(WrenchSample)) (func(), error) {
	return s.fanout.Subscribe(topic, fn)
}

// Close stops the reader and closes the port.
func (s *SerialWrenchStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.port.Close()
		s.activeBackgroundWorkers.Wait()
	})
	return err
}

func (s *SerialWrenchStream) readLoop() {
	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		select {
		case <-s.closed:
			return
		default:
		}

		topic, sample, err := parseWrenchLine(scanner.Text())
		if err != nil {
			s.logger.Debugf("skipping malformed wrench line: %v", err)
			continue
		}
		s.fanout.Publish(topic, sample)
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.closed:
		default:
			s.logger.Errorf("serial wrench stream read failed: %v", err)
		}
	}
}

func parseWrenchLine(line string) (string, WrenchSample, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 8 {
		return "", WrenchSample{}, errors.Errorf("expected 8 fields, got %d", len(fields))
	}

	values := make([]float64, 6)
	for i, field := range fields[2:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return "", WrenchSample{}, errors.Wrapf(err, "value %d", i)
		}
		values[i] = v
	}

	return fields[0], WrenchSample{Frame: fields[1], Wrench: wrenchFromVector6(values)}, nil
}
