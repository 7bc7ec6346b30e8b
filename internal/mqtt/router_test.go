package mqtt

import (
	"slices"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"home/kitchen/temp", "home/kitchen/temp", true},
		{"home/kitchen/temp", "home/kitchen/humidity", false},
		{"home/+/temp", "home/kitchen/temp", true},
		{"home/+/temp", "home/kitchen/sink/temp", false},
		{"home/#", "home", true},
		{"home/#", "home/kitchen/temp", true},
		{"#", "home/kitchen", true},
		{"#", "$SYS/broker/uptime", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"+/kitchen", "$SYS/kitchen", false},
		{"home/#/temp", "home/kitchen/temp", false},
		{"home/kitchen", "home/kitchen/temp", false},
		{"home/kitchen/temp", "home/kitchen", false},
		{"home/+", "home/", true},
	}
	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.topic, func(t *testing.T) {
			if got := Match(tt.filter, tt.topic); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestRouter_Dispatch(t *testing.T) {
	var r router
	var got []string
	r.add("home/+/temp", func(topic string, payload []byte) {
		got = append(got, "temp:"+topic+"="+string(payload))
	})
	r.add("home/#", func(topic string, _ []byte) {
		got = append(got, "all:"+topic)
	})

	if n := r.dispatch("home/kitchen/temp", []byte("21")); n != 2 {
		t.Errorf("dispatch handlers = %d, want 2", n)
	}
	if n := r.dispatch("office/temp", nil); n != 0 {
		t.Errorf("dispatch unmatched handlers = %d, want 0", n)
	}
	want := []string{"temp:home/kitchen/temp=21", "all:home/kitchen/temp"}
	if !slices.Equal(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestRouter_Remove(t *testing.T) {
	var r router
	nop := func(string, []byte) {}
	a := r.add("cortex/in", nop)
	b := r.add("cortex/in", nop)
	c := r.add("cortex/other", nop)

	if got := r.filters(); !slices.Equal(got, []string{"cortex/in", "cortex/other"}) {
		t.Fatalf("filters = %v", got)
	}

	if f, inUse := r.remove(a); f != "cortex/in" || !inUse {
		t.Errorf("remove(a) = %q, %v; want cortex/in, true", f, inUse)
	}
	if f, inUse := r.remove(b); f != "cortex/in" || inUse {
		t.Errorf("remove(b) = %q, %v; want cortex/in, false", f, inUse)
	}
	if _, inUse := r.remove(c); inUse {
		t.Error("remove(c) reported filter still in use")
	}
	if got := r.filters(); len(got) != 0 {
		t.Errorf("filters after removal = %v, want none", got)
	}
}
