package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDispatchesByType(t *testing.T) {
	feed := NewCoinbaseFeed(CoinbaseConfig{}, "BTC-USD")

	var tickers, all []FeedEvent
	feed.Subscribe(EventTicker, func(ev FeedEvent) { tickers = append(tickers, ev) })
	feed.Subscribe(AllEvents, func(ev FeedEvent) { all = append(all, ev) })

	require.NoError(t, feed.HandleMessage([]byte(`{"type":"ticker","product_id":"BTC-USD","price":"100.5","best_bid":"100.4","best_ask":"100.6","last_size":"0.01","side":"buy","time":"2024-01-01T00:00:00.000Z"}`)))
	require.NoError(t, feed.HandleMessage([]byte(`{"type":"heartbeat","product_id":"BTC-USD","sequence":42}`)))
	require.NoError(t, feed.HandleMessage([]byte(`{"type":"ticker","product_id":"ETH-USD","price":"1"}`)))

	require.Len(t, tickers, 1)
	assert.Equal(t, "100.5", tickers[0].Price)
	assert.Equal(t, "100.4", tickers[0].BestBid)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tickers[0].Time.UTC())
	require.Len(t, all, 2)
	assert.Equal(t, int64(42), all[1].Sequence)

	tick := tickers[0].Tick()
	assert.Equal(t, "0.01", tick.LastSize)
	assert.Equal(t, "100.6", tick.BestAsk)
}

func TestFeedDecodesUserChannelEvents(t *testing.T) {
	feed := NewCoinbaseFeed(CoinbaseConfig{}, "BTC-USD")

	var got []FeedEvent
	feed.Subscribe(EventMatch, func(ev FeedEvent) { got = append(got, ev) })
	feed.Subscribe(EventDone, func(ev FeedEvent) { got = append(got, ev) })

	require.NoError(t, feed.HandleMessage([]byte(`{"type":"match","product_id":"BTC-USD","maker_order_id":"m-1","taker_order_id":"t-1","side":"sell","size":"0.2","price":"101"}`)))
	require.NoError(t, feed.HandleMessage([]byte(`{"type":"done","product_id":"BTC-USD","order_id":"t-1","side":"buy","reason":"filled","remaining_size":"0"}`)))

	require.Len(t, got, 2)
	assert.Equal(t, []string{"m-1", "t-1"}, got[0].OrderIDs())
	fill := got[0].Fill("t-1")
	assert.Equal(t, "0.2", fill.Size)
	assert.Equal(t, "101", fill.Price)

	remaining, err := got[1].Remaining()
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Equal(t, "filled", got[1].Reason)
}

func TestFeedRejectsBadMessages(t *testing.T) {
	feed := NewCoinbaseFeed(CoinbaseConfig{}, "BTC-USD")

	err := feed.HandleMessage([]byte(`not json`))
	require.Error(t, err)
	var exErr *GatewayError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, ErrorTypeParsing, exErr.Type)

	assert.Error(t, feed.HandleMessage([]byte(`{"product_id":"BTC-USD"}`)))

	err = feed.HandleMessage([]byte(`{"type":"error","message":"Failed to subscribe","reason":"user channel requires authentication"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user channel requires authentication")
}

func TestSubscriptionRequestPublic(t *testing.T) {
	feed := NewCoinbaseFeed(CoinbaseConfig{}, "BTC-USD")
	sub := feed.SubscriptionRequest()

	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, []string{"BTC-USD"}, sub.ProductIDs)
	assert.Equal(t, []string{"heartbeat", "ticker"}, sub.Channels)
	assert.Empty(t, sub.Signature)
	assert.Empty(t, sub.Key)
}

func TestSubscriptionRequestSignedUserChannel(t *testing.T) {
	feed := NewCoinbaseFeed(CoinbaseConfig{APIKey: "key", APISecret: testSecret, Passphrase: "pass"}, "BTC-USD")
	feed.now = func() time.Time { return time.Unix(1700000000, 0) }

	sub := feed.SubscriptionRequest()
	assert.Equal(t, []string{"heartbeat", "ticker", "user"}, sub.Channels)
	assert.Equal(t, "key", sub.Key)
	assert.Equal(t, "pass", sub.Passphrase)
	assert.Equal(t, "1700000000", sub.Timestamp)
	assert.Equal(t, signCoinbase(testSecret, "1700000000GET/users/self/verify"), sub.Signature)
}

func TestParseAndFormatAmount(t *testing.T) {
	v, err := ParseAmount("0.00000001")
	require.NoError(t, err)
	assert.Equal(t, 1e-8, v)

	v, err = ParseAmount("")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = ParseAmount("abc")
	assert.Error(t, err)

	assert.Equal(t, "0.33333333", FormatAmount(1.0/3))
}
