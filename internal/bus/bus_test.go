package bus

import "testing"

func TestMessageBus_PublishReachesSubscribers(t *testing.T) {
	mb := New()
	var got []Event
	mb.Subscribe("one", func(e Event) { got = append(got, e) })
	mb.Subscribe("two", func(e Event) { got = append(got, e) })

	mb.Publish(EventExchangeRequested, ExchangePayload{Requester: "a", Target: "b", Actor: "a"})

	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(got))
	}
	for _, e := range got {
		if e.Name != EventExchangeRequested {
			t.Errorf("name = %q", e.Name)
		}
		if e.At.IsZero() {
			t.Error("event not stamped")
		}
		if p, ok := e.Payload.(ExchangePayload); !ok || p.Target != "b" {
			t.Errorf("payload = %#v", e.Payload)
		}
	}
}

func TestMessageBus_Unsubscribe(t *testing.T) {
	mb := New()
	calls := 0
	mb.Subscribe("one", func(Event) { calls++ })
	mb.Unsubscribe("one")
	mb.Publish(EventDeviceSubscribed, DevicePayload{DeviceID: "a"})

	if calls != 0 {
		t.Errorf("unsubscribed handler called %d times", calls)
	}
}
