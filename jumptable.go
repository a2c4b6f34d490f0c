package distsys

// CriticalSection holds the compiled code for one MPCal label: a name (in
// the form Archetype.Label) and a body that runs straight-line, in a bounded
// amount of time, reading/writing resources through the ArchetypeInterface
// it is given.
type CriticalSection struct {
	Name string
	Body func(iface ArchetypeInterface) error
}

// JumpTable maps a critical section's name to its compiled code. One jump
// table is shared by every running instance of the archetypes it was built
// from.
type JumpTable map[string]CriticalSection

// MakeJumpTable builds a JumpTable from its critical sections.
func MakeJumpTable(sections ...CriticalSection) JumpTable {
	tbl := make(JumpTable, len(sections))
	for _, section := range sections {
		tbl[section.Name] = section
	}
	return tbl
}

// Archetype holds the static metadata needed to run one archetype, aside
// from its runtime configuration (resources, constants, self).
type Archetype struct {
	Name                                 string
	Label                                string
	RequiredRefParams, RequiredValParams []string
	JumpTable                            JumpTable
	PreAmble                             func(iface ArchetypeInterface)
}
