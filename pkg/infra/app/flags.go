package app

import (
	"github.com/spf13/pflag"
)

// NamedFlagSets keeps flag sets in the order they were requested, so the
// help output groups flags by option group.
type NamedFlagSets struct {
	// Order is an ordered list of flag set names.
	Order []string
	// FlagSets stores the flag sets by name.
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet returns the flag set with the given name, creating it on first use.
func (nfs *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if nfs.FlagSets == nil {
		nfs.FlagSets = map[string]*pflag.FlagSet{}
	}
	if _, ok := nfs.FlagSets[name]; !ok {
		nfs.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		nfs.Order = append(nfs.Order, name)
	}
	return nfs.FlagSets[name]
}

// CliOptions abstracts the configuration options bound to the command line.
type CliOptions interface {
	// Flags returns the flag sets grouped by option group.
	Flags() NamedFlagSets
	// Complete fills defaults that depend on other values or the environment.
	Complete() error
	// Validate checks every option group and aggregates the errors.
	Validate() error
}
