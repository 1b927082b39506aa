package params

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML representation of NetworkParameters. Absent fields keep
// their default; present fields go through the clamping setters.
//
//	defaultTTL: 7
//	sar:
//	  discardTimeout: 1
//	  segmentReceptionInterval: 5
//	  unicastRetransmissionsCount: 2
//	acknowledgedMessages:
//	  timeout: 45s
//	  interval: 3s
type Config struct {
	DefaultTTL *int      `yaml:"defaultTTL"`
	SAR        SARConfig `yaml:"sar"`
	Ack        AckConfig `yaml:"acknowledgedMessages"`
}

// SARConfig holds raw SAR step values.
type SARConfig struct {
	DiscardTimeout                          *int `yaml:"discardTimeout"`
	AcknowledgementDelayIncrement           *int `yaml:"acknowledgementDelayIncrement"`
	SegmentReceptionInterval                *int `yaml:"segmentReceptionInterval"`
	SegmentsThreshold                       *int `yaml:"segmentsThreshold"`
	AcknowledgementRetransmissionsCount     *int `yaml:"acknowledgementRetransmissionsCount"`
	SegmentTransmissionInterval             *int `yaml:"segmentTransmissionInterval"`
	UnicastRetransmissionsCount             *int `yaml:"unicastRetransmissionsCount"`
	UnicastRetransmissionsWithoutProgress   *int `yaml:"unicastRetransmissionsWithoutProgressCount"`
	UnicastRetransmissionsIntervalStep      *int `yaml:"unicastRetransmissionsIntervalStep"`
	UnicastRetransmissionsIntervalIncrement *int `yaml:"unicastRetransmissionsIntervalIncrement"`
	MulticastRetransmissionsCount           *int `yaml:"multicastRetransmissionsCount"`
	MulticastRetransmissionsIntervalStep    *int `yaml:"multicastRetransmissionsIntervalStep"`
}

// AckConfig configures acknowledged message retries.
type AckConfig struct {
	Timeout  *time.Duration `yaml:"timeout"`
	Interval *time.Duration `yaml:"interval"`
}

// Load reads network parameters from a YAML file.
func Load(path string) (NetworkParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NetworkParameters{}, fmt.Errorf("params: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML into network parameters, starting from Default.
func Parse(data []byte) (NetworkParameters, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NetworkParameters{}, fmt.Errorf("params: parse: %w", err)
	}
	p := Default()
	cfg.Apply(&p)
	return p, nil
}

// Apply writes every present field into p.
func (c Config) Apply(p *NetworkParameters) {
	set := func(v *int, f func(int)) {
		if v != nil {
			f(*v)
		}
	}
	set(c.DefaultTTL, p.SetDefaultTTL)
	set(c.SAR.DiscardTimeout, p.SetDiscardTimeout)
	set(c.SAR.AcknowledgementDelayIncrement, p.SetAcknowledgementDelayIncrement)
	set(c.SAR.SegmentReceptionInterval, p.SetSegmentReceptionInterval)
	set(c.SAR.SegmentsThreshold, p.SetSegmentsThreshold)
	set(c.SAR.AcknowledgementRetransmissionsCount, p.SetAcknowledgementRetransmissionsCount)
	set(c.SAR.SegmentTransmissionInterval, p.SetSegmentTransmissionInterval)
	set(c.SAR.UnicastRetransmissionsCount, p.SetUnicastRetransmissionsCount)
	set(c.SAR.UnicastRetransmissionsWithoutProgress, p.SetUnicastRetransmissionsWithoutProgressCount)
	set(c.SAR.UnicastRetransmissionsIntervalStep, p.SetUnicastRetransmissionsIntervalStep)
	set(c.SAR.UnicastRetransmissionsIntervalIncrement, p.SetUnicastRetransmissionsIntervalIncrement)
	set(c.SAR.MulticastRetransmissionsCount, p.SetMulticastRetransmissionsCount)
	set(c.SAR.MulticastRetransmissionsIntervalStep, p.SetMulticastRetransmissionsIntervalStep)
	if c.Ack.Timeout != nil {
		p.SetAcknowledgementMessageTimeout(*c.Ack.Timeout)
	}
	if c.Ack.Interval != nil {
		p.SetAcknowledgementMessageInterval(*c.Ack.Interval)
	}
}
