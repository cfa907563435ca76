package ifc

import "strings"

// Quantity is one resolved physical quantity for an element.
type Quantity struct {
	Value float64
	Unit  string
}

// quantityPriority orders the IfcPhysicalSimpleQuantity subtypes the way
// downstream pricing wants them: a volume beats a weight beats an area, and
// a bare count is the last resort. The value sits at argument 3 for all of
// them.
var quantityPriority = []struct {
	typ  string
	unit string
}{
	{"IFCQUANTITYVOLUME", "m³"},
	{"IFCQUANTITYWEIGHT", "kg"},
	{"IFCQUANTITYAREA", "m²"},
	{"IFCQUANTITYLENGTH", "m"},
	{"IFCQUANTITYCOUNT", "count"},
}

const quantityValueArg = 3

// ElementQuantity resolves the best quantity attached to an element through
// the IfcRelDefinesByProperties -> IfcElementQuantity chain. ok is false when
// the model carries no usable quantity set for the element.
func (f *File) ElementQuantity(el *Entity) (Quantity, bool) {
	if f.qsets == nil {
		f.indexQuantitySets()
	}
	var (
		best     Quantity
		bestRank = len(quantityPriority)
	)
	for _, qset := range f.qsets[el.ID] {
		members, ok := qset.List(5)
		if !ok {
			continue
		}
		for _, member := range members {
			q := f.refEntity(member)
			if q == nil {
				continue
			}
			rank := quantityRank(q.Type)
			if rank < 0 || rank >= bestRank {
				continue
			}
			value, ok := q.Float(quantityValueArg)
			if !ok {
				continue
			}
			best = Quantity{Value: value, Unit: quantityPriority[rank].unit}
			bestRank = rank
		}
	}
	return best, bestRank < len(quantityPriority)
}

// indexQuantitySets walks every IfcRelDefinesByProperties once and maps each
// related element to its IfcElementQuantity definitions.
func (f *File) indexQuantitySets() {
	f.qsets = make(map[int][]*Entity)
	for _, rel := range f.ByType("IFCRELDEFINESBYPROPERTIES") {
		defID, ok := rel.Ref(5)
		if !ok {
			continue
		}
		def := f.Entity(defID)
		if def == nil || def.Type != "IFCELEMENTQUANTITY" {
			continue
		}
		related, ok := rel.List(4)
		if !ok {
			continue
		}
		for _, member := range related {
			el := f.refEntity(member)
			if el == nil {
				continue
			}
			f.qsets[el.ID] = append(f.qsets[el.ID], def)
		}
	}
}

func (f *File) refEntity(raw string) *Entity {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 || raw[0] != '#' {
		return nil
	}
	probe := Entity{Args: []string{raw}}
	id, ok := probe.Ref(0)
	if !ok {
		return nil
	}
	return f.Entity(id)
}

func quantityRank(typ string) int {
	for i, p := range quantityPriority {
		if p.typ == typ {
			return i
		}
	}
	return -1
}
