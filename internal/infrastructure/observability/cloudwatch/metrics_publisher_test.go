package cloudwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/dreschagin/visual-regression/internal/application/port"
)

type fakeMetricsClient struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	fail   int
}

func (f *fakeMetricsClient) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("throttled")
	}
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMapUnit(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected string
	}{
		{"percentage", "%", "Percent"},
		{"milliseconds", "ms", "Milliseconds"},
		{"seconds", "s", "Seconds"},
		{"count", "count", "Count"},
		{"unknown", "custom", "None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mapUnit(tt.unit)
			if string(result) != tt.expected {
				t.Errorf("mapUnit(%q) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestConvertToData(t *testing.T) {
	p := newMetricsPublisher(&fakeMetricsClient{}, MetricsPublisherConfig{
		Namespace:         "Test/Namespace",
		DefaultDimensions: map[string]string{"Environment": "test"},
		StorageResolution: 60,
		BufferSize:        100,
	})

	ts := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	data := p.convertToData(port.ComparisonMetric{
		TestID:          "t1",
		ProjectID:       "shop",
		Status:          "FAIL",
		MatchPercentage: 6.25,
		MismatchCount:   1,
		Duration:        1500 * time.Millisecond,
		Timestamp:       ts,
	})

	if len(data) != 5 {
		t.Fatalf("expected 5 datums, got %d", len(data))
	}

	values := map[string]float64{}
	for _, datum := range data {
		values[*datum.MetricName] = *datum.Value
		if !datum.Timestamp.Equal(ts) {
			t.Errorf("%s: unexpected timestamp %v", *datum.MetricName, datum.Timestamp)
		}
		if datum.StorageResolution == nil || *datum.StorageResolution != 60 {
			t.Errorf("%s: expected StorageResolution=60", *datum.MetricName)
		}

		dims := map[string]string{}
		for _, dim := range datum.Dimensions {
			dims[*dim.Name] = *dim.Value
		}
		if dims["Environment"] != "test" || dims["ProjectID"] != "shop" {
			t.Errorf("%s: unexpected dimensions %v", *datum.MetricName, dims)
		}
		if _, ok := dims["TestID"]; ok {
			t.Errorf("%s: TestID dimension must be opt-in", *datum.MetricName)
		}
	}

	want := map[string]float64{
		metricMatchPercentage:   6.25,
		metricMismatchPixels:    1,
		metricComparisonFailed:  1,
		metricDimensionMismatch: 0,
		metricComparisonLatency: 1500,
	}
	for name, value := range want {
		if values[name] != value {
			t.Errorf("%s = %v, want %v", name, values[name], value)
		}
	}
}

func TestConvertToData_PerTestDimension(t *testing.T) {
	p := newMetricsPublisher(&fakeMetricsClient{}, MetricsPublisherConfig{Namespace: "ns", PerTestDimension: true, BufferSize: 10})

	data := p.convertToData(port.ComparisonMetric{TestID: "t1", Status: "PASS"})
	if len(data) != 4 {
		t.Fatalf("expected duration datum to be skipped, got %d datums", len(data))
	}
	found := false
	for _, dim := range data[0].Dimensions {
		if *dim.Name == "TestID" && *dim.Value == "t1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected TestID dimension")
	}
}

func TestMetricsPublisher_BuffersAndFlushes(t *testing.T) {
	client := &fakeMetricsClient{}
	p := newMetricsPublisher(client, MetricsPublisherConfig{Namespace: "ns", BufferSize: 100})

	for i := 0; i < 3; i++ {
		if err := p.PublishComparison(context.Background(), port.ComparisonMetric{TestID: "t", Status: "PASS"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(client.inputs) != 0 {
		t.Fatal("metrics should be buffered until flush")
	}

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(client.inputs) != 1 || len(client.inputs[0].MetricData) != 12 {
		t.Fatalf("expected one request with 12 datums, got %+v", client.inputs)
	}
	if *client.inputs[0].Namespace != "ns" {
		t.Fatalf("unexpected namespace %q", *client.inputs[0].Namespace)
	}
}

func TestMetricsPublisher_AutoFlushAndRetry(t *testing.T) {
	client := &fakeMetricsClient{fail: 1}
	p := newMetricsPublisher(client, MetricsPublisherConfig{Namespace: "ns", BufferSize: 4})

	if err := p.PublishComparison(context.Background(), port.ComparisonMetric{Status: "FAIL"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected auto flush after retry, got %d requests", len(client.inputs))
	}
	if len(p.buffer) != 0 {
		t.Fatalf("buffer should be empty, got %d", len(p.buffer))
	}
}

func TestMetricsConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		config    MetricsPublisherConfig
		expectErr bool
	}{
		{"valid config", MetricsPublisherConfig{Namespace: "Test/Namespace", Region: "us-east-1"}, false},
		{"missing namespace", MetricsPublisherConfig{Region: "us-east-1"}, true},
		{"missing region", MetricsPublisherConfig{Namespace: "Test/Namespace"}, true},
		{"invalid storage resolution", MetricsPublisherConfig{Namespace: "ns", Region: "us-east-1", StorageResolution: 30}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			err := normalizeMetricsConfig(&cfg)
			if (err != nil) != tt.expectErr {
				t.Fatalf("normalizeMetricsConfig() error = %v, expectErr %v", err, tt.expectErr)
			}
			if err != nil {
				return
			}
			if cfg.BufferSize != 100 || cfg.FlushInterval != 10*time.Second {
				t.Errorf("defaults not applied: %+v", cfg)
			}
			if cfg.StorageResolution != 60 {
				t.Errorf("expected StorageResolution to default to 60, got %d", cfg.StorageResolution)
			}
		})
	}
}
