package dictionary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/bastiangx/pcserve/pkg/tables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const tablesV1 = `<ICD10PCS.tabular><pcsTable><pcsRow>
<axis pos="1"><label code="0">Medical and Surgical</label></axis>
<axis pos="2"><label code="J">Subcutaneous Tissue and Fascia</label></axis>
<axis pos="3"><label code="H">Insertion</label></axis>
<axis pos="4"><label code="6">Chest</label><label code="8">Abdomen</label></axis>
<axis pos="5"><label code="0">Open</label></axis>
<axis pos="6"><label code="M">Stimulator Generator</label></axis>
<axis pos="7"><label code="Z">No Qualifier</label></axis>
</pcsRow></pcsTable></ICD10PCS.tabular>`

const tablesV2 = `<ICD10PCS.tabular><pcsTable><pcsRow>
<axis pos="1"><label code="0">Medical and Surgical</label></axis>
<axis pos="2"><label code="S">Lower Joints</label></axis>
<axis pos="3"><label code="B">Excision</label></axis>
<axis pos="4"><label code="D">Knee Joint, Left</label></axis>
<axis pos="5"><label code="0">Open</label></axis>
<axis pos="6"><label code="Z">No Device</label></axis>
<axis pos="7"><label code="Z">No Qualifier</label></axis>
</pcsRow></pcsTable></ICD10PCS.tabular>`

const indexV1 = `<ICD10PCS.index><letter><title>E</title>
<mainTerm><title>Excision</title><term level="2"><title>Knee, Left</title><codes>0JH</codes></term></mainTerm>
</letter></ICD10PCS.index>`

const defsV1 = `<ICD10PCS.definitions><section code="0"><axis pos="3">
<label code="H">Insertion</label>
<terms><title>Insertion</title><definition>Putting in a nonbiological appliance</definition></terms>
</axis></section></ICD10PCS.definitions>`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(tablesV1))
	assert.Equal(t, a, Fingerprint([]byte(tablesV1)))
	assert.NotEqual(t, a, Fingerprint([]byte(tablesV2)))
	assert.NotEmpty(t, Fingerprint(nil))
}

func TestRegistryBuildsOncePerFingerprint(t *testing.T) {
	r := NewRegistry(4)
	var calls atomic.Int64
	release := make(chan struct{})
	r.buildTables = func(b []byte) (*tables.Engine, error) {
		calls.Add(1)
		<-release
		return tables.BuildBytes(b)
	}

	const callers = 16
	var wg sync.WaitGroup
	engines := make([]*tables.Engine, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, _, err := r.Tables([]byte(tablesV1))
			assert.NoError(t, err)
			engines[i] = e
		}()
	}
	// give every caller a chance to join the in-flight build
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, e := range engines {
		assert.Same(t, engines[0], e)
	}

	// later calls are cache hits
	e, fp, err := r.Tables([]byte(tablesV1))
	require.NoError(t, err)
	assert.Same(t, engines[0], e)
	assert.Equal(t, Fingerprint([]byte(tablesV1)), fp)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), r.Stats().Builds)
}

func TestRegistryDoesNotCacheFailures(t *testing.T) {
	r := NewRegistry(4)
	fail := true
	r.buildTables = func(b []byte) (*tables.Engine, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return tables.BuildBytes(b)
	}

	_, _, err := r.Tables([]byte(tablesV1))
	require.Error(t, err)

	fail = false
	e, _, err := r.Tables([]byte(tablesV1))
	require.NoError(t, err)
	assert.True(t, e.IsValid("0JH60MZ"))

	st := r.Stats()
	assert.Equal(t, int64(2), st.Builds)
	assert.Equal(t, int64(1), st.Failures)
	assert.Equal(t, 1, st.Cached)
}

func TestRegistryConstructionErrorsPassThrough(t *testing.T) {
	r := NewRegistry(4)
	_, _, err := r.Tables([]byte("<broken"))
	var ce *tables.ConstructionError
	assert.ErrorAs(t, err, &ce)

	_, _, err = r.Index(nil)
	var ice *index.ConstructionError
	assert.ErrorAs(t, err, &ice)
}

func TestRegistryEvictsLeastRecentlyUsed(t *testing.T) {
	r := NewRegistry(2)
	e1, _, err := r.Tables([]byte(tablesV1))
	require.NoError(t, err)
	_, _, err = r.Index([]byte(indexV1))
	require.NoError(t, err)

	// touch tables so the index is the oldest entry
	_, _, err = r.Tables([]byte(tablesV1))
	require.NoError(t, err)
	_, _, err = r.Tables([]byte(tablesV2))
	require.NoError(t, err)

	st := r.Stats()
	assert.Equal(t, 2, st.Cached)
	assert.Equal(t, int64(1), st.Evictions)

	again, _, err := r.Tables([]byte(tablesV1))
	require.NoError(t, err)
	assert.Same(t, e1, again)
	assert.Equal(t, int64(3), r.Stats().Builds)

	_, _, err = r.Index([]byte(indexV1))
	require.NoError(t, err)
	assert.Equal(t, int64(4), r.Stats().Builds)
}

func TestRegistryKindsDoNotCollide(t *testing.T) {
	r := NewRegistry(4)
	doc := []byte("<root/>")
	_, _, err := r.Index(doc)
	require.NoError(t, err)
	_, _, err = r.Tables(doc)
	var ce *tables.ConstructionError
	assert.ErrorAs(t, err, &ce)
}

func TestLoaderDiscoverAndLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2025", "icd10pcs_tables_2025.xml"), tablesV1)
	writeFile(t, filepath.Join(dir, "2025", "icd10pcs_index_2025.xml"), indexV1)
	writeFile(t, filepath.Join(dir, "icd10pcs_definitions_2025.xml"), defsV1)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignore me")

	l := NewLoader(dir, DefaultPatterns(), nil)
	files, err := l.Discover()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2025", "icd10pcs_tables_2025.xml"), files[KindTables])
	assert.Len(t, files, 3)

	b, err := l.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, b.Engine)
	require.NotNil(t, b.Index)
	require.NotNil(t, b.Definitions)
	assert.True(t, b.Engine.IsValid("0JH80MZ"))
	assert.Equal(t, 2, b.Index.Len())
	assert.Equal(t, Fingerprint([]byte(tablesV1)), b.Fingerprints[KindTables])
	assert.False(t, b.LoadedAt.IsZero())

	again, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Same(again))
	assert.Same(t, b.Engine, again.Engine)
	assert.Equal(t, int64(3), l.Registry().Stats().Builds)
}

func TestLoaderOptionalReferences(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tables.xml"), tablesV1)

	b, err := NewLoader(dir, DefaultPatterns(), nil).Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b.Engine)
	assert.Nil(t, b.Index)
	assert.Nil(t, b.Definitions)
	assert.Len(t, b.Fingerprints, 1)
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLoader(dir, DefaultPatterns(), nil).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoTables)

	writeFile(t, filepath.Join(dir, "tables.xml"), "<ICD10PCS.tabular><pcsTable>")
	_, err = NewLoader(dir, DefaultPatterns(), nil).Load(context.Background())
	var ce *tables.ConstructionError
	assert.ErrorAs(t, err, &ce)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writeFile(t, filepath.Join(dir, "tables.xml"), tablesV1)
	_, err = NewLoader(dir, DefaultPatterns(), nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoaderMatches(t *testing.T) {
	l := NewLoader("/data", DefaultPatterns(), nil)
	assert.True(t, l.Matches("icd10pcs_tables_2025.xml"))
	assert.True(t, l.Matches(filepath.Join("2025", "icd10pcs_index_2025.xml")))
	assert.False(t, l.Matches("icd10pcs_tables_2025.xml.swp"))
	assert.False(t, l.Matches("readme.md"))
}

func TestBundleSame(t *testing.T) {
	a := &Bundle{Fingerprints: map[Kind]string{KindTables: "1"}}
	b := &Bundle{Fingerprints: map[Kind]string{KindTables: "1"}}
	c := &Bundle{Fingerprints: map[Kind]string{KindTables: "1", KindIndex: "2"}}
	assert.True(t, a.Same(b))
	assert.False(t, a.Same(c))
	assert.False(t, a.Same(nil))
	var none *Bundle
	assert.True(t, none.Same(nil))
}

func TestWatcherReloadsChangedTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "icd10pcs_tables.xml")
	writeFile(t, path, tablesV1)

	l := NewLoader(dir, DefaultPatterns(), nil)
	first, err := l.Load(context.Background())
	require.NoError(t, err)

	reloaded := make(chan *Bundle, 4)
	w, err := NewWatcher(l, first, 20*time.Millisecond, func(b *Bundle) { reloaded <- b })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	// rewriting identical bytes is not a change
	writeFile(t, path, tablesV1)
	time.Sleep(150 * time.Millisecond)
	writeFile(t, path, tablesV2)

	select {
	case b := <-reloaded:
		assert.True(t, b.Engine.IsValid("0SBD0ZZ"))
		assert.False(t, b.Engine.IsValid("0JH60MZ"))
		assert.Same(t, b, w.Current())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after tables changed")
	}

	// a broken file keeps the previous bundle
	writeFile(t, path, "<ICD10PCS.tabular>")
	time.Sleep(150 * time.Millisecond)
	assert.True(t, w.Current().Engine.IsValid("0SBD0ZZ"))

	require.NoError(t, w.Close())
	assert.Len(t, reloaded, 0)
	assert.GreaterOrEqual(t, l.Registry().Stats().Failures, int64(1))
}

func TestWatcherCloseWithoutEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(NewLoader(dir, DefaultPatterns(), nil), nil, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Close())
	assert.Nil(t, w.Current())
}
