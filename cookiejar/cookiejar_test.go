package cookiejar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/require"
)

// fakeExecutor implements cdp.Executor, recording every method invoked and
// optionally unmarshaling a canned JSON result, the same seam
// grafana-k6's own NetworkManager tests use for faking a session.
type fakeExecutor struct {
	calls  []string
	result []byte
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, method string, _ easyjson.Marshaler, res easyjson.Unmarshaler) error {
	f.calls = append(f.calls, method)
	if f.err != nil {
		return f.err
	}
	if res != nil && f.result != nil {
		return easyjson.Unmarshal(f.result, res)
	}
	return nil
}

func TestGetAllReturnsCookiesFromStorageDomain(t *testing.T) {
	fake := &fakeExecutor{result: []byte(`{"cookies":[{"name":"session","value":"abc","domain":"example.com","path":"/"}]}`)}
	jar := New(fake)

	cookies, err := jar.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	require.Equal(t, "session", cookies[0].Name)
	require.Contains(t, fake.calls, "Storage.getCookies")
}

func TestSetAllAndClearIssueExpectedCommands(t *testing.T) {
	fake := &fakeExecutor{}
	jar := New(fake)

	err := jar.SetAll(context.Background(), []*network.CookieParam{
		{Name: "a", Value: "1", Domain: "example.com"},
	})
	require.NoError(t, err)

	err = jar.Clear(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"Storage.setCookies", "Storage.clearCookies"}, fake.calls)
}

func TestSaveToFileFiltersByPatternAndRoundTrips(t *testing.T) {
	fake := &fakeExecutor{result: []byte(`{"cookies":[
		{"name":"session","value":"keepme","domain":"example.com","path":"/"},
		{"name":"tracker","value":"dropme","domain":"ads.example.com","path":"/"}
	]}`)}
	jar := New(fake)

	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.gob")

	err := jar.SaveToFile(context.Background(), path, "^session$")
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	loadExec := &fakeExecutor{}
	loadJar := New(loadExec)
	err = loadJar.LoadFromFile(context.Background(), path, "")
	require.NoError(t, err)
	require.Contains(t, loadExec.calls, "Storage.setCookies")
}

func TestSaveToFileRejectsInvalidPattern(t *testing.T) {
	fake := &fakeExecutor{}
	jar := New(fake)
	err := jar.SaveToFile(context.Background(), filepath.Join(t.TempDir(), "cookies.gob"), "(")
	require.Error(t, err)
}

func TestLoadFromFileSkipsSetAllWhenNothingMatches(t *testing.T) {
	saveExec := &fakeExecutor{result: []byte(`{"cookies":[{"name":"tracker","value":"x","domain":"ads.example.com","path":"/"}]}`)}
	saveJar := New(saveExec)

	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.gob")
	require.NoError(t, saveJar.SaveToFile(context.Background(), path, ""))

	loadExec := &fakeExecutor{}
	loadJar := New(loadExec)
	err := loadJar.LoadFromFile(context.Background(), path, "^nomatch$")
	require.NoError(t, err)
	require.NotContains(t, loadExec.calls, "Storage.setCookies")
}
