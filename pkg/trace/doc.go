// Package trace follows the N-link successor function from a start page.
//
// A trace ends in one of three ways:
//
//   - [TerminalHalt]: a page with fewer than N links was reached.
//   - [TerminalCycle]: a page recurred. The cycle is the suffix of the path
//     from the first occurrence of that page.
//   - [TerminalTruncated]: the step cap ran out first. This is not a HALT and
//     callers must not treat it as one.
//
// Cycles are identified by their canonical rotation, which starts at the
// numerically smallest member. [Cycle.Key] renders that rotation as
// "12-40-77" and is the basin identity used by every later stage.
//
// [DiscoverCycles] finds every cycle of an index in one linear pass, and
// [Sample] traces many starts in parallel for spot checks against it.
package trace
