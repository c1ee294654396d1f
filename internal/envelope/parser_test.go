package envelope

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseDirectJSON(t *testing.T) {
	p := NewParser()

	for _, body := range []string{
		`{"pageHelp":{"data":[1,2,3]}}`,
		`  [{"code":"510300","trade":"3.50"}]  `,
		`[]`,
	} {
		env, err := p.Parse(body, "jsonpCallback123")
		require.NoError(t, err, body)
		require.Equal(t, StrategyDirect, env.Strategy, "合法 JSON 应由 direct 策略解析")
	}
}

func TestParseCallbackMatchesDirect(t *testing.T) {
	p := NewParser()
	payload := `{"pageHelp":{"data":[{"SEC_CODE":"510300","TOT_VOL":"12.5"}]},"success":"true"}`

	direct, err := p.Parse(payload, "")
	require.NoError(t, err)

	for _, body := range []string{
		"jsonpCallback4567(" + payload + ");",
		"jsonpCallback4567(" + payload + ")",
		"  JSONPCALLBACK4567 ( " + payload + " ) ; \n",
	} {
		env, err := p.Parse(body, "jsonpCallback4567")
		require.NoError(t, err, body)
		require.Equal(t, StrategyCallback, env.Strategy)
		if diff := cmp.Diff(direct.Value, env.Value); diff != "" {
			t.Fatalf("回调解析结果与直接解析不一致 (-direct +callback):\n%s", diff)
		}
		require.Equal(t, string(direct.Raw), string(env.Raw))
	}
}

func TestParseCallbackTokenIsLiteral(t *testing.T) {
	p := NewParser()
	token := "IO.XSRV2.CallbackList['RMx2tYYlc7QrOsu']"
	body := `/*<script>location.href='//sina.com';</script>*/
IO.XSRV2.CallbackList['RMx2tYYlc7QrOsu']([{"code":"510300","trade":"3.50"}]);`

	env, err := p.Parse(body, token)
	require.NoError(t, err)
	require.Equal(t, StrategyCallback, env.Strategy)

	list, ok := env.Value.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)

	// "." in the token must not act as a wildcard.
	_, err = p.Parse(`IOxXSRV2.CallbackList['RMx2tYYlc7QrOsu']([1]);`, token)
	require.Error(t, err)
}

func TestParseTrailingObject(t *testing.T) {
	p := NewParser()

	env, err := p.Parse(`var data = {"result":{"ok":true}};`, "unrelated")
	require.NoError(t, err)
	require.Equal(t, StrategyTrailingObject, env.Strategy)
	require.Equal(t, `{"result":{"ok":true}}`, string(env.Raw))
}

func TestParseLenientObjectLiteral(t *testing.T) {
	p := NewParser()
	token := "IO.XSRV2.CallbackList['abc']"
	body := `IO.XSRV2.CallbackList['abc'](([{symbol:"sh510300",code:"510300",trade:"3.500",volume:1000}]));`

	env, err := p.Parse(body, token)
	require.NoError(t, err)
	require.Equal(t, StrategyLenient, env.Strategy)

	list := env.Value.([]any)
	row := list[0].(map[string]any)
	require.Equal(t, "510300", row["code"])
}

func TestParseUnparseable(t *testing.T) {
	p := NewParser()
	body := "<html><body>" + strings.Repeat("维护中", 600) + "</body></html>"

	_, err := p.Parse(body, "jsonpCallback1")
	require.Error(t, err)

	var perr *UnparseableError
	require.True(t, errors.As(err, &perr), "应返回 UnparseableError")
	require.Len(t, []rune(perr.Preview), PreviewLimit)
	require.True(t, strings.HasPrefix(body, perr.Preview))
}

func TestParseBrokenJSONFallsThrough(t *testing.T) {
	p := NewParser()

	_, err := p.Parse(`{"a":1,,}`, "")
	var perr *UnparseableError
	require.ErrorAs(t, err, &perr)
	require.Contains(t, perr.Tried, StrategyDirect)
}

func TestParseEmptyBody(t *testing.T) {
	_, err := NewParser().Parse("  \n ", "cb")
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestParseFeed(t *testing.T) {
	body := `<?xml version="1.0"?><rss><channel><title>t</title>
<item><title>a</title></item>
<item><title>b</title></item>
</channel></rss>`

	feed, err := ParseFeed(body)
	require.NoError(t, err)
	require.Len(t, feed.Items, 2)
	require.Contains(t, feed.Items[1], "<title>b</title>")

	_, err = ParseFeed(`{"not":"xml"}`)
	require.ErrorIs(t, err, ErrNotAFeed)
}
