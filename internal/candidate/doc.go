// Package candidate turns one challenge image into an ordered set of
// preprocessed variants for recognition. Each variant attacks a different
// failure mode of the source material: soft noise, colored backgrounds,
// low contrast, crossing noise lines, and the stroke gaps left behind when
// those lines are removed.
//
// The generator always emits the baseline, channel-extracted, high-contrast,
// noise-suppressed, and gap-repaired variants, and adds a symmetric-channel
// backup when the source contrast falls below the configured floor. A
// variant that fails to build is dropped; generation only errors when no
// variant survives.
package candidate
