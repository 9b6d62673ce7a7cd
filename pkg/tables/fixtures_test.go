package tables

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// exampleRow is the single row from the reference examples:
// 0 J H {6,8} 0 M Z.
const exampleRow = `<?xml version="1.0" encoding="UTF-8"?>
<ICD10PCS.tabular>
  <pcsTable>
    <pcsRow codes="2">
      <axis pos="1" values="1"><title>Section</title><label code="0">Medical and Surgical</label></axis>
      <axis pos="2" values="1"><title>Body System</title><label code="J">Subcutaneous Tissue and Fascia</label></axis>
      <axis pos="3" values="1"><title>Operation</title><label code="H">Insertion</label></axis>
      <axis pos="4" values="2"><title>Body Part</title>
        <label code="6">Subcutaneous Tissue and Fascia, Chest</label>
        <label code="8">Subcutaneous Tissue and Fascia, Abdomen</label>
      </axis>
      <axis pos="5" values="1"><title>Approach</title><label code="0">Open</label></axis>
      <axis pos="6" values="1"><title>Device</title><label code="M">Stimulator Generator, Single Array</label></axis>
      <axis pos="7" values="1"><title>Qualifier</title><label code="Z">No Qualifier</label></axis>
    </pcsRow>
  </pcsTable>
</ICD10PCS.tabular>`

// officialLayout declares positions 1-3 on the table the way the published
// tables do, with two rows, one of them missing position 4.
const officialLayout = `<ICD10PCS.tabular>
  <version>2025</version>
  <pcsTable>
    <axis pos="1" values="1"><title>Section</title><label code="0">Medical and Surgical</label></axis>
    <axis pos="2" values="1"><title>Body System</title><label code="S">Lower Joints</label></axis>
    <axis pos="3" values="1"><title>Operation</title><label code="B">Excision</label></axis>
    <pcsRow codes="4">
      <axis pos="4" values="2"><label code="C">Knee Joint, Right</label><label code="D">Knee Joint, Left</label></axis>
      <axis pos="5" values="2"><label code="0">Open</label><label code="4">Percutaneous Endoscopic</label></axis>
      <axis pos="6" values="1"><label code="Z">No Device</label></axis>
      <axis pos="7" values="1"><label code="Z">No Qualifier</label></axis>
    </pcsRow>
    <pcsRow codes="0">
      <axis pos="5" values="1"><label code="3">Percutaneous</label></axis>
      <axis pos="6" values="1"><label code="Z">No Device</label></axis>
      <axis pos="7" values="1"><label code="X">Diagnostic</label></axis>
    </pcsRow>
  </pcsTable>
  <pcsTable>
    <axis pos="1" values="1"><label code="0">Medical and Surgical</label></axis>
    <axis pos="2" values="1"><label code="J">Subcutaneous Tissue and Fascia</label></axis>
    <axis pos="3" values="1"><label code="H">Insertion</label></axis>
    <pcsRow codes="1">
      <axis pos="4" values="1"><label code="C">Subcutaneous Tissue and Fascia, Pelvic Region</label></axis>
      <axis pos="5" values="1"><label code="3">Percutaneous</label></axis>
      <axis pos="6" values="1"><label code="N">Tissue Expander</label></axis>
      <axis pos="7" values="1"><label code="Z">No Qualifier</label></axis>
    </pcsRow>
  </pcsTable>
</ICD10PCS.tabular>`

// rowXML renders one inline row from per-position value lists; a nil entry
// leaves the position out.
func rowXML(values [7][]string) string {
	var b strings.Builder
	b.WriteString("<pcsRow>")
	for i, vs := range values {
		if vs == nil {
			continue
		}
		fmt.Fprintf(&b, `<axis pos="%d">`, i+1)
		for _, v := range vs {
			fmt.Fprintf(&b, `<label code="%s">label %d %s</label>`, v, i+1, v)
		}
		b.WriteString("</axis>")
	}
	b.WriteString("</pcsRow>")
	return b.String()
}

func tablesXML(rows ...string) string {
	return "<ICD10PCS.tabular><pcsTable>" + strings.Join(rows, "") + "</pcsTable></ICD10PCS.tabular>"
}

func mustBuild(t *testing.T, doc string) *Engine {
	t.Helper()
	e, err := BuildBytes([]byte(doc))
	require.NoError(t, err)
	return e
}
