// Licensed under the MIT License. See LICENSE file in the project root for details.

package garbage

// Class is a garbage size class. Classes keep cheap, frequent items batched
// aggressively while pushing memory-heavy items toward early destruction.
type Class uint8

const (
	// ClassSmall holds node-sized items; deeply batched.
	ClassSmall Class = iota
	// ClassMedium holds buffer-sized items; shallowly batched.
	ClassMedium
	// ClassLarge holds bulk items; never batched locally.
	ClassLarge

	// NumClasses is the number of size classes.
	NumClasses = 3
)

// DefaultMediumBytes is the default boundary between small and medium items.
const DefaultMediumBytes uintptr = 512

// DefaultLargeBytes is the default boundary between medium and large items.
const DefaultLargeBytes uintptr = 16 << 10

// Classify routes an approximate byte size to a class using the given
// boundaries. Sizes below mediumBytes are small, sizes below largeBytes are
// medium, everything else is large.
func Classify(size, mediumBytes, largeBytes uintptr) Class {
	switch {
	case size < mediumBytes:
		return ClassSmall
	case size < largeBytes:
		return ClassMedium
	default:
		return ClassLarge
	}
}

// String returns the class name used in metrics and logs.
func (c Class) String() string {
	switch c {
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	default:
		return "unknown"
	}
}
