package acquire

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	zarr "github.com/qri-io/zarr-lazy"
)

func devices(positioners int) []Device {
	devs := []Device{&Detector{ID: "pilatus", Rows: 3, Cols: 4}}
	for i := 0; i < positioners; i++ {
		devs = append(devs, &Positioner{ID: fmt.Sprintf("motor%d", i), Start: float64(i), Step: 0.5})
	}
	return devs
}

func TestRunScan(t *testing.T) {
	store := zarr.NewMemoryStore()
	scan := &Scan{Steps: 6, Devices: devices(20), Compression: "gzip"}
	res, err := Run(context.Background(), store, scan, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Report.OK() {
		t.Fatal(res.Report.Err())
	}
	if len(res.Report.Completed) != 21 {
		t.Errorf("completed mismatch. want: 21 got: %d", len(res.Report.Completed))
	}
	if got := res.Shapes["entry/pilatus/data"]; !got.Equal(zarr.Shape{6, 3, 4}) {
		t.Errorf("detector shape mismatch. want: [6,3,4] got: %s", got)
	}

	det, err := zarr.Open(store, "entry/pilatus/data")
	if err != nil {
		t.Fatal(err)
	}
	frame, err := det.GetSlice(zarr.Slice{{Start: 4, Stop: 5, Step: 1}, {Start: 0, Stop: 3, Step: 1}, {Start: 0, Stop: 4, Step: 1}})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := zarr.Values[int32](frame)
	if fmt.Sprint(got) != fmt.Sprint(DetectorFrame(4, 3, 4)) {
		t.Errorf("frame 4 mismatch. got: %v", got)
	}
	attrs, err := det.Attributes()
	if err != nil {
		t.Fatal(err)
	}
	if attrs[ScanAttr] != res.ScanID.String() {
		t.Errorf("scan id attribute mismatch. want: %s got: %v", res.ScanID, attrs[ScanAttr])
	}

	for i := 0; i < 20; i++ {
		m, err := zarr.Open(store, fmt.Sprintf("entry/motor%d/value", i))
		if err != nil {
			t.Fatal(err)
		}
		all, err := m.ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		vals := all.Float64s()
		if len(vals) != 6 || vals[5] != float64(i)+2.5 {
			t.Fatalf("motor%d positions mismatch. got: %v", i, vals)
		}
	}

	// a second scan into the same store refuses to overwrite
	if _, err := Run(context.Background(), store, &Scan{Steps: 1, Devices: devices(1)}, nil); !errors.Is(err, zarr.ErrExists) {
		t.Errorf("expected ErrExists, got: %v", err)
	}
}

type flakyDevice struct {
	Positioner
	failAt int
}

func (f *flakyDevice) Prepare(c *zarr.Coordinator, s *Scan) (func(ctx context.Context, step int) error, error) {
	step, err := f.Positioner.Prepare(c, s)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, i int) error {
		if i == f.failAt {
			return errors.New("encoder fault")
		}
		return step(ctx, i)
	}, nil
}

func TestRunScanDeviceFailure(t *testing.T) {
	store := zarr.NewMemoryStore()
	devs := append(devices(2), &flakyDevice{Positioner: Positioner{ID: "flaky", Step: 1}, failAt: 3})
	res, err := Run(context.Background(), store, &Scan{Steps: 8, Devices: devs}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.OK() {
		t.Fatal("expected flaky device to fail")
	}
	if len(res.Report.Failures) != 1 || res.Report.Failures[0].Producer != "flaky" {
		t.Errorf("failures mismatch. got: %v", res.Report.Err())
	}
	if got := res.Shapes["entry/flaky/value"]; !got.Equal(zarr.Shape{3}) {
		t.Errorf("flaky shape should stop at its last good step, got: %s", got)
	}
	if got := res.Shapes["entry/pilatus/data"]; !got.Equal(zarr.Shape{8, 3, 4}) {
		t.Errorf("detector should finish despite the failure, got: %s", got)
	}

	r, err := zarr.Open(store, "entry/flaky/value")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Shape().Equal(zarr.Shape{3}) {
		t.Errorf("persisted shape mismatch. got: %s", r.Shape())
	}
}

func TestRunScanTimeout(t *testing.T) {
	store := zarr.NewMemoryStore()
	scan := &Scan{
		Steps:    1000,
		Interval: 20 * time.Millisecond,
		Timeout:  150 * time.Millisecond,
		Devices:  devices(3),
	}
	res, err := Run(context.Background(), store, scan, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Report.TimedOut {
		t.Fatal("expected the scan to time out")
	}
	if len(res.Report.Failures) != 4 {
		t.Errorf("every device should be incomplete, got: %v", res.Report.Err())
	}
	for _, f := range res.Report.Failures {
		if !errors.Is(f, zarr.ErrIncomplete) {
			t.Errorf("%s: expected ErrIncomplete, got: %v", f.Producer, f.Err)
		}
	}

	// whatever was committed before the deadline reads back intact
	det, err := zarr.Open(store, "entry/pilatus/data")
	if err != nil {
		t.Fatal(err)
	}
	n := det.Shape()[0]
	if n == 0 || n >= 1000 {
		t.Fatalf("unexpected committed steps: %d", n)
	}
	last, err := det.GetSlice(zarr.Slice{{Start: n - 1, Stop: n, Step: 1}, {Start: 0, Stop: 3, Step: 1}, {Start: 0, Stop: 4, Step: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := last.At(0, 2, 3); v != float64((n-1)*1000+11) {
		t.Errorf("last frame mismatch. got: %v", v)
	}
}

func TestRunScanValidation(t *testing.T) {
	store := zarr.NewMemoryStore()
	if _, err := Run(context.Background(), store, &Scan{Steps: 0, Devices: devices(1)}, nil); err == nil {
		t.Error("expected error for zero steps")
	}
	if _, err := Run(context.Background(), store, &Scan{Steps: 1}, nil); err == nil {
		t.Error("expected error for a scan without devices")
	}
}
