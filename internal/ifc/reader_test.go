package ifc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixtureModel = `ISO-10303-21;
HEADER;
FILE_DESCRIPTION(('ViewDefinition [CoordinationView]'),'2;1');
FILE_NAME('warehouse.ifc','2024-03-01T10:00:00',('author'),('org'),'','','');
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCPROJECT('2O2Fr$t4X7Zf8NOew3FLOH',$,'Warehouse',$,$,$,$,$,$);
#10=IFCBEAM('0Beam000000000000000A1',$,'B-101',$,$,$,$,$);
#11=IFCBEAM('0Beam000000000000000A2',$,'O''Brien span',$,$,$,$,$);
#12=IFCCOLUMN('0Col0000000000000000B1',$,'C-201',$,$,$,$,$);
#13=IFCWALL('0Wall000000000000000C1',$,'W-301',$,$,$,$,$);
#14=IFCSLAB('0Slab000000000000000D1',$,$,$,$,$,$,$);
#20=IFCQUANTITYVOLUME('GrossVolume',$,$,2.5);
#21=IFCQUANTITYWEIGHT('NetWeight',$,$,450.);
#22=IFCELEMENTQUANTITY('0Q000000000000000000Q1',$,'BaseQuantities',$,$,(#21));
#23=IFCRELDEFINESBYPROPERTIES('0R000000000000000000R1',$,$,$,(#10),#22);
#24=IFCELEMENTQUANTITY('0Q000000000000000000Q2',$,'BaseQuantities',$,$,(#20,#21));
#25=IFCRELDEFINESBYPROPERTIES('0R000000000000000000R2',$,$,$,(#13),#24);
ENDSEC;
END-ISO-10303-21;
`

func parseFixture(t *testing.T) *File {
	t.Helper()
	f, err := Parse(strings.NewReader(fixtureModel))
	require.NoError(t, err)
	return f
}

func TestParseHeader(t *testing.T) {
	f := parseFixture(t)
	require.Equal(t, "IFC4", f.Schema)
	require.True(t, f.SupportedSchema())
	require.Len(t, f.ByType("IfcProject"), 1)
}

func TestParseEntities(t *testing.T) {
	f := parseFixture(t)
	require.Len(t, f.ByType("IFCBEAM"), 2)
	require.Len(t, f.ByType("IFCCOLUMN"), 1)
	require.Len(t, f.ByType("IFCWALL"), 1)
	require.Len(t, f.ByType("IFCSLAB"), 1)

	beam := f.Entity(10)
	require.NotNil(t, beam)
	require.Equal(t, "IFCBEAM", beam.Type)
	gid, ok := beam.Str(0)
	require.True(t, ok)
	require.Equal(t, "0Beam000000000000000A1", gid)
	name, ok := beam.Str(2)
	require.True(t, ok)
	require.Equal(t, "B-101", name)
}

func TestParseEscapedQuote(t *testing.T) {
	f := parseFixture(t)
	name, ok := f.Entity(11).Str(2)
	require.True(t, ok)
	require.Equal(t, "O'Brien span", name)
}

func TestParseNullArgs(t *testing.T) {
	f := parseFixture(t)
	slab := f.Entity(14)
	_, ok := slab.Str(2)
	require.False(t, ok, "null name must not decode as a string")
}

func TestParseAggregatesAndRefs(t *testing.T) {
	f := parseFixture(t)
	rel := f.Entity(23)
	related, ok := rel.List(4)
	require.True(t, ok)
	require.Equal(t, []string{"#10"}, related)
	def, ok := rel.Ref(5)
	require.True(t, ok)
	require.Equal(t, 22, def)
}

func TestElementQuantityDirect(t *testing.T) {
	f := parseFixture(t)
	q, ok := f.ElementQuantity(f.Entity(10))
	require.True(t, ok)
	require.Equal(t, 450.0, q.Value)
	require.Equal(t, "kg", q.Unit)
}

func TestElementQuantityPriority(t *testing.T) {
	f := parseFixture(t)
	// Wall #13 has both a volume and a weight in its quantity set; the
	// volume must win.
	q, ok := f.ElementQuantity(f.Entity(13))
	require.True(t, ok)
	require.Equal(t, 2.5, q.Value)
	require.Equal(t, "m³", q.Unit)
}

func TestElementQuantityMissing(t *testing.T) {
	f := parseFixture(t)
	_, ok := f.ElementQuantity(f.Entity(12))
	require.False(t, ok)
}

func TestParseRejectsNonStep(t *testing.T) {
	_, err := Parse(strings.NewReader("%PDF-1.7 definitely not a model"))
	require.Error(t, err)
}

func TestParseMultilineRecord(t *testing.T) {
	src := "ISO-10303-21;\nHEADER;\nFILE_SCHEMA(('IFC2X3'));\nENDSEC;\nDATA;\n#1=IFCPROJECT('gid',$,\n'Split across lines',\n$,$,$,$,$,$);\nENDSEC;\nEND-ISO-10303-21;\n"
	f, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, "IFC2X3", f.Schema)
	name, ok := f.Entity(1).Str(2)
	require.True(t, ok)
	require.Equal(t, "Split across lines", name)
}
