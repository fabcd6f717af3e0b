// Package limiters guards side effects that must not repeat inside a window.
//
// [Cooldown] suppresses repeated code deliveries: a prepare call for the same
// attempt, strategy and target inside the window is answered from local
// state instead of the network.
//
// All methods are nil-safe. Policy comes from the window supplied at
// construction; callers decide what a suppressed call returns.
package limiters
