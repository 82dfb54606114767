package eventbus

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// dropCounter records drop-oldest shedding per topic.
type dropCounter struct {
	mu    sync.Mutex
	drops map[string]int
}

func newDropCounter() *dropCounter {
	return &dropCounter{drops: map[string]int{}}
}

func (d *dropCounter) RecordEventBusDropped(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops[topic]++
}

func (d *dropCounter) count(topic string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drops[topic]
}

var _ = Describe("Bus", func() {
	It("delivers an event to subscribers of its topic only", func() {
		bus := New(nil)
		scans, unsubScans := bus.Subscribe(TopicScanStarted)
		defer unsubScans()
		findings, unsubFindings := bus.Subscribe(TopicFindingCreated)
		defer unsubFindings()

		bus.Publish(Event{Type: TopicScanStarted, SystemID: "sys-1", ScanID: "scan-1"})

		var got Event
		Eventually(scans).Should(Receive(&got))
		Expect(got.ScanID).To(Equal("scan-1"))
		Consistently(findings).ShouldNot(Receive())
	})

	It("stamps version and timestamp defaults on publish", func() {
		bus := New(nil)
		ch, unsub := bus.Subscribe(TopicScanCompleted)
		defer unsub()

		bus.Publish(Event{Type: TopicScanCompleted, SystemID: "sys-1"})

		var got Event
		Eventually(ch).Should(Receive(&got))
		Expect(got.Version).To(Equal(eventVersion))
		Expect(got.Timestamp.IsZero()).To(BeFalse())
	})

	It("preserves publish order for a single subscriber", func() {
		bus := New(nil)
		ch, unsub := bus.Subscribe(TopicScanProgress)
		defer unsub()

		for i := 1; i <= 5; i++ {
			bus.Publish(Event{Type: TopicScanProgress, ScanID: "scan-1", Payload: i * 20})
		}

		for i := 1; i <= 5; i++ {
			var got Event
			Eventually(ch).Should(Receive(&got))
			Expect(got.Payload).To(Equal(i * 20))
		}
	})

	It("sheds the oldest backlog of a slow subscriber instead of blocking", func() {
		drops := newDropCounter()
		bus := NewSized(drops, 2)
		ch, unsub := bus.Subscribe(TopicFindingCreated)
		defer unsub()

		// queue holds 2; the third and fourth publish each evict the
		// oldest pending event.
		for i := 0; i < 4; i++ {
			bus.Publish(Event{Type: TopicFindingCreated, FindingID: fmt.Sprintf("f-%d", i)})
		}

		Expect(drops.count(string(TopicFindingCreated))).To(Equal(2))

		var got Event
		Eventually(ch).Should(Receive(&got))
		Expect(got.FindingID).To(Equal("f-2"), "oldest events are the ones shed")
		Eventually(ch).Should(Receive(&got))
		Expect(got.FindingID).To(Equal("f-3"))
	})

	It("stops delivering after unsubscribe", func() {
		bus := New(nil)
		ch, unsub := bus.Subscribe(TopicScanStarted)
		unsub()

		bus.Publish(Event{Type: TopicScanStarted, ScanID: "scan-1"})
		Consistently(ch).ShouldNot(Receive())
	})

	It("supports multiple subscribers on one topic", func() {
		bus := New(nil)
		a, unsubA := bus.Subscribe(TopicRemediationCompleted)
		defer unsubA()
		b, unsubB := bus.Subscribe(TopicRemediationCompleted)
		defer unsubB()

		bus.Publish(Event{Type: TopicRemediationCompleted, AttemptID: "att-1"})

		Eventually(a).Should(Receive())
		Eventually(b).Should(Receive())
	})
})
