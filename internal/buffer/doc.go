// Package buffer provides a growable array of fixed-size elements stored in a
// single contiguous region obtained from a pluggable memory.Allocator.
//
// Buffer is the untyped form: elements are byte slices of the size given at
// construction. Vector layers a typed view over a Buffer for pointer-free
// numeric element types. Both grow by doubling on push, refuse writes that
// would need growth which the allocator could not provide, and report
// misuse through the errors declared in this package.
package buffer
