package definitions

import (
	"errors"
	"testing"

	"github.com/bastiangx/pcserve/pkg/tables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defsDoc = `<ICD10PCS.definitions>
  <section code="0"><title>Medical and Surgical</title>
    <axis pos="3" values="2"><title>Operation</title>
      <label code="H">Insertion</label>
      <label code="B">Excision</label>
      <terms>
        <title>Excision</title>
        <definition>Cutting out or off, without replacement, a portion of a body part</definition>
        <explanation>The qualifier DIAGNOSTIC is used to identify excision procedures that are biopsies</explanation>
      </terms>
    </axis>
    <axis pos="5"><title>Approach</title>
      <label code="0">Open</label>
      <terms><title>Open</title><definition>Cutting through the skin</definition></terms>
    </axis>
  </section>
</ICD10PCS.definitions>`

const tablesDoc = `<ICD10PCS.tabular><pcsTable>
  <axis pos="1"><title>Section</title><label code="0">Medical and Surgical</label></axis>
  <axis pos="2"><title>Body System</title><label code="S">Lower Joints</label></axis>
  <axis pos="3"><title>Operation</title><label code="B">Excision</label></axis>
  <pcsRow>
    <axis pos="4"><title>Body Part</title><label code="D">Knee Joint, Left</label></axis>
    <axis pos="5"><title>Approach</title><label code="0">Open</label></axis>
    <axis pos="6"><title>Device</title><label code="Z">No Device</label></axis>
    <axis pos="7"><title>Qualifier</title><label code="Z">No Qualifier</label></axis>
  </pcsRow>
</pcsTable></ICD10PCS.tabular>`

func TestBuildReadsOperationAxisOnly(t *testing.T) {
	d, err := BuildBytes([]byte(defsDoc))
	require.NoError(t, err)

	ops, terms := d.Len()
	assert.Equal(t, 2, ops)
	assert.Equal(t, 1, terms)

	term, ok := d.Term("EXCISION")
	require.True(t, ok)
	assert.Contains(t, term.Explanation, "biopsies")
	_, ok = d.Term("open")
	assert.False(t, ok)

	assert.Equal(t, "Insertion", d.Operation('H', "Insertion"))
	assert.Equal(t, "Cutting out or off, without replacement, a portion of a body part", d.Operation('B', "Excision"))
	assert.Equal(t, "", d.Operation('Q', "Repair"))
}

func TestDescribe(t *testing.T) {
	d, err := BuildBytes([]byte(defsDoc))
	require.NoError(t, err)
	e, err := tables.BuildBytes([]byte(tablesDoc))
	require.NoError(t, err)

	assert.Equal(t,
		"Section 0: Medical and Surgical\n"+
			"Body System S: Lower Joints\n"+
			"Operation B: Excision - Cutting out or off, without replacement, a portion of a body part\n"+
			"Body Part D: Knee Joint, Left\n"+
			"Approach 0: Open\n"+
			"Device Z: No Device\n"+
			"Qualifier Z: No Qualifier",
		d.Describe("0sbd0zz", e))

	assert.Equal(t, "Needs 7 characters.", d.Describe("0SB", e))
	assert.Contains(t, d.Describe("0SBC0ZZ", e), "Not a legal code")

	var none *Definitions
	assert.Contains(t, none.Describe("0SBD0ZZ", e), "Operation B: Excision\n")
	assert.Equal(t, "No tables loaded.", d.Describe("0SBD0ZZ", nil))
}

func TestBuildErrors(t *testing.T) {
	for _, doc := range []string{"", "not xml at all", "<ICD10PCS.definitions><axis pos=\"3\">"} {
		d, err := BuildBytes([]byte(doc))
		assert.Nil(t, d)
		var ce *ConstructionError
		assert.True(t, errors.As(err, &ce), "%q: %v", doc, err)
	}
}
