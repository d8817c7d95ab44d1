package queue

// Shape is a tensor shape: one extent per dimension.
type Shape []int64

// ShapeRange is the (min,max) extent pair tracked per tensor across a
// pending batch.
type ShapeRange struct {
	Min Shape
	Max Shape
}

// PendingBatchShapes maps tensor name to the (min,max) shape observed so
// far across the pending batch.
type PendingBatchShapes map[string]ShapeRange

// ShapePeekFunc is the external shape-peek oracle: a pure read of a
// payload's declared tensor shape by name, supplied by the model
// configuration layer. It may fail only with NotFound.
type ShapePeekFunc func(runnerID int64, payload Payload, tensorName string) (Shape, *Error)

// InitPendingShape seeds pending with (shape, shape) for every tensor name
// in enforceEqualShapeTensors, peeked from payload. The bool values of
// enforceEqualShapeTensors are not consulted here — only the key set
// matters; raggedness only governs how a *caller* widens pending over
// time (see WidenPendingShape), not how it is initialized.
func InitPendingShape(runnerID int64, payload Payload, enforceEqualShapeTensors map[string]bool, peek ShapePeekFunc) (PendingBatchShapes, *Error) {
	out := make(PendingBatchShapes, len(enforceEqualShapeTensors))
	for name := range enforceEqualShapeTensors {
		shape, err := peek(runnerID, payload, name)
		if err != nil {
			return nil, err
		}
		out[name] = ShapeRange{Min: cloneShape(shape), Max: cloneShape(shape)}
	}
	return out, nil
}

// CompareWithPendingShape reports whether payload's tensors are compatible
// with the pending batch: every tensor named in pending must peek to a
// shape that falls element-wise within its stored (min,max). Min and max
// only move apart through WidenPendingShape, so for a tensor that has not
// been widened "within [min,max]" is exact equality — there is no separate
// strict/ragged branch here.
func CompareWithPendingShape(runnerID int64, payload Payload, peek ShapePeekFunc, pending PendingBatchShapes) bool {
	for name, rng := range pending {
		shape, err := peek(runnerID, payload, name)
		if err != nil {
			return false
		}
		if !shapeWithin(shape, rng.Min, rng.Max) {
			return false
		}
	}
	return true
}

// WidenPendingShape widens pending[name]'s (min,max) pointwise to include
// shape. This is not part of the Triton-derived core contract — spec.md
// §4.3 leaves the update policy to the scheduler — but pointwise min/max
// widening is the documented reference behavior, so it lives here as a
// convenience for callers admitting a ragged payload into the batch.
func WidenPendingShape(pending PendingBatchShapes, name string, shape Shape) {
	rng, ok := pending[name]
	if !ok {
		pending[name] = ShapeRange{Min: cloneShape(shape), Max: cloneShape(shape)}
		return
	}
	for i, v := range shape {
		if i >= len(rng.Min) {
			break
		}
		if v < rng.Min[i] {
			rng.Min[i] = v
		}
		if v > rng.Max[i] {
			rng.Max[i] = v
		}
	}
	pending[name] = rng
}

func shapeWithin(shape, min, max Shape) bool {
	if len(shape) != len(min) || len(shape) != len(max) {
		return false
	}
	for i, v := range shape {
		if v < min[i] || v > max[i] {
			return false
		}
	}
	return true
}

func cloneShape(s Shape) Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}
