// Package capability implements the per-ability behaviour modules and
// the composer that assembles them into a working device.
//
// Each module contributes operations for one declared ability namespace
// plus handlers for the pushes and state digests that concern it. The
// composer walks a device's advertised ability set, applies the
// X-variant override rule (ToggleX beats Toggle, ConsumptionX beats
// Consumption), and returns an ordered Set whose push chain visits the
// modules in declaration order with the base system module last.
//
// An ability's presence is authoritative: a device is never commanded
// through a namespace absent from its ability set, and the composed Set
// exposes exactly the modules those abilities map to.
package capability
