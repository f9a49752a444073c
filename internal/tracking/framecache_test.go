package tracking

import (
	"errors"
	"reflect"
	"testing"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

func TestFrameCacheConvertsOncePerFrame(t *testing.T) {
	var converted, released []int
	n := 0
	cache := FrameCache[int]{
		Convert: func(*types.Frame) (int, error) { n++; converted = append(converted, n); return n, nil },
		Release: func(v int) { released = append(released, v) },
	}
	first, second := &types.Frame{}, &types.Frame{}

	var seen []int
	record := func(v int) { seen = append(seen, v) }
	for i := 0; i < 3; i++ {
		if err := cache.Do(first, record); err != nil {
			t.Fatal(err)
		}
	}
	if err := cache.Do(second, record); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(converted, []int{1, 2}) {
		t.Errorf("conversions = %v, want one per frame", converted)
	}
	if !reflect.DeepEqual(seen, []int{1, 1, 1, 2}) {
		t.Errorf("callers saw %v", seen)
	}
	if !reflect.DeepEqual(released, []int{1}) {
		t.Errorf("released = %v, want the first frame's value only", released)
	}

	cache.Reset()
	cache.Reset()
	if !reflect.DeepEqual(released, []int{1, 2}) {
		t.Errorf("Reset released %v", released)
	}
}

func TestFrameCacheErrorNotCached(t *testing.T) {
	fail := errors.New("bad frame")
	calls := 0
	cache := FrameCache[int]{Convert: func(*types.Frame) (int, error) {
		calls++
		if calls == 1 {
			return 0, fail
		}
		return 7, nil
	}}
	frame := &types.Frame{}

	ran := false
	if err := cache.Do(frame, func(int) { ran = true }); !errors.Is(err, fail) || ran {
		t.Fatalf("got err=%v ran=%v", err, ran)
	}
	var got int
	if err := cache.Do(frame, func(v int) { got = v }); err != nil || got != 7 {
		t.Errorf("retry: got (%d, %v)", got, err)
	}
}
