package queue

// testPayload is a minimal Payload used across the table-driven tests in
// this package.
type testPayload struct {
	id         string
	arrivalNs  uint64
	timeoutUS  uint64
	batchSize  uint32
	rejections []*Error
}

func newTestPayload(id string, arrivalNs, timeoutUS uint64) *testPayload {
	return &testPayload{id: id, arrivalNs: arrivalNs, timeoutUS: timeoutUS, batchSize: 1}
}

func (p *testPayload) ArrivalTimeNs() uint64 { return p.arrivalNs }
func (p *testPayload) TimeoutUS() uint64     { return p.timeoutUS }
func (p *testPayload) BatchSize() uint32     { return p.batchSize }
func (p *testPayload) CorrelationID() string { return p.id }
func (p *testPayload) Reject(err *Error)     { p.rejections = append(p.rejections, err) }

func usToNs(us uint64) uint64 { return us * 1000 }
