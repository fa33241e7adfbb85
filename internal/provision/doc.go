// Package provision creates the platform-side discount for an approved
// partnership: a percentage price rule plus a discount code bound to it.
//
// The two calls are not atomic on the platform. When the code cannot be
// created the provisioner deletes the rule it just made; a rule that cannot
// be deleted either is logged as provision.rule.orphaned and counted.
package provision
