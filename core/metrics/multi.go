package metrics

import "errors"

// MultiSink fans events out to several sinks, joining their errors.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines the given sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink { return &MultiSink{sinks: sinks} }

func (m *MultiSink) RecordOffer(ev OfferEvent) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordOffer(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordRound(ev RoundEvent) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordRound(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordEscalation(ev EscalationEvent) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordEscalation(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordVendorTimeout(ev VendorTimeoutEvent) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordVendorTimeout(ev))
	}
	return errors.Join(errs...)
}
