// Package kodi is a small JSON-RPC 2.0 client for the Kodi media center:
// play/pause, stop, live TV channels and upcoming broadcasts.
package kodi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	logx "homeorch/pkg/logx"
)

const (
	DefaultURL = "http://localhost:8080/jsonrpc"

	// StartTimeLayout is the broadcast "starttime" format, read in
	// Config.Location.
	StartTimeLayout = "2006-01-02 15:04:05"

	hdSuffix = " HD"
)

var ErrChannelGroups = errors.New("kodi: no tv channel groups")

// RPCError is an error object returned by Kodi.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("kodi rpc error %d: %s", e.Code, e.Message) }

type Config struct {
	URL      string
	Timeout  time.Duration
	Location *time.Location // EPG start times; nil means local
}

// Broadcast is one EPG entry.
type Broadcast struct {
	Label     string
	ChannelID int
	Start     time.Time
}

// Client is safe for concurrent use. The channel index is fetched once; the
// broadcast list is cached until every entry in it has started.
type Client struct {
	url  string
	http *http.Client
	log  logx.Logger

	now func() time.Time
	loc *time.Location

	mu         sync.Mutex
	channels   *channelList
	broadcasts []Broadcast
	playing    bool
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	loc := cfg.Location
	return &Client{
		url:  cfg.URL,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "kodi")),
		now:  func() time.Time { return time.Now().In(loc) },
		loc:  loc,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method, id string, params, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kodi %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("kodi %s: http %d", method, resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("kodi %s: decode: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("kodi %s: %w", method, rr.Error)
	}
	if out != nil && len(rr.Result) > 0 {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("kodi %s: result: %w", method, err)
		}
	}
	return nil
}

// callOK runs a method whose result is the string "OK".
func (c *Client) callOK(ctx context.Context, method, id string, params any) (bool, error) {
	var res any
	if err := c.call(ctx, method, id, params, &res); err != nil {
		return false, err
	}
	s, _ := res.(string)
	return s == "OK", nil
}

// PlayPause toggles playback.
func (c *Client) PlayPause(ctx context.Context) (bool, error) {
	return c.callOK(ctx, "Input.ExecuteAction", "plps", map[string]any{"action": "playpause"})
}

// Stop stops playback started by PlayChannel. It is a no-op returning false
// when this client has not started anything.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()
	if !playing {
		return false, nil
	}
	ok, err := c.callOK(ctx, "Input.ExecuteAction", "stp", map[string]any{"action": "stop"})
	if err != nil || !ok {
		return false, err
	}
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
	return true, nil
}

func (c *Client) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// PlayChannel opens the live channel with the given name (case-insensitive,
// without the " HD" suffix). Unknown names return false.
func (c *Client) PlayChannel(ctx context.Context, name string) (bool, error) {
	chs, err := c.channelIndex(ctx)
	if err != nil {
		return false, err
	}
	id, ok := chs.ids[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return false, nil
	}
	c.mu.Lock()
	c.playing = true
	c.mu.Unlock()
	return c.callOK(ctx, "Player.Open", "playch", map[string]any{"item": map[string]any{"channelid": id}})
}

// ChannelNames returns the indexed channel names, sorted.
func (c *Client) ChannelNames(ctx context.Context) ([]string, error) {
	chs, err := c.channelIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]string(nil), chs.order...)
	sort.Strings(out)
	return out, nil
}

type channelGroup struct {
	ID    int    `json:"channelgroupid"`
	Label string `json:"label"`
}

type channel struct {
	ID    int    `json:"channelid"`
	Label string `json:"label"`
}

// channelList maps upper-cased labels without " HD" to channel ids. order
// keeps the names in the order Kodi listed them.
type channelList struct {
	ids   map[string]int
	order []string
}

// channelIndex fetches the channels of the first tv group once. Only "... HD"
// channels are indexed; the first id wins for a repeated name.
func (c *Client) channelIndex(ctx context.Context) (*channelList, error) {
	c.mu.Lock()
	if c.channels != nil {
		chs := c.channels
		c.mu.Unlock()
		return chs, nil
	}
	c.mu.Unlock()

	var groups struct {
		Groups []channelGroup `json:"channelgroups"`
	}
	if err := c.call(ctx, "PVR.GetChannelGroups", "chg", map[string]any{"channeltype": "tv"}, &groups); err != nil {
		return nil, err
	}
	if len(groups.Groups) == 0 {
		return nil, ErrChannelGroups
	}
	var list struct {
		Channels []channel `json:"channels"`
	}
	if err := c.call(ctx, "PVR.GetChannels", "chs", map[string]any{"channelgroupid": groups.Groups[0].ID}, &list); err != nil {
		return nil, err
	}

	chs := &channelList{ids: map[string]int{}}
	for _, ch := range list.Channels {
		label, ok := strings.CutSuffix(ch.Label, hdSuffix)
		if !ok {
			continue
		}
		key := strings.ToUpper(label)
		if _, dup := chs.ids[key]; !dup {
			chs.ids[key] = ch.ID
			chs.order = append(chs.order, key)
		}
	}
	c.log.Debug("channel index loaded", logx.Int("channels", len(chs.order)), logx.Int("group", groups.Groups[0].ID))

	c.mu.Lock()
	if c.channels == nil {
		c.channels = chs
	}
	chs = c.channels
	c.mu.Unlock()
	return chs, nil
}

type broadcast struct {
	Label     string `json:"label"`
	StartTime string `json:"starttime"`
}

// NextBroadcast returns the start time of the first upcoming broadcast whose
// label matches (case-insensitive). Channels are searched in Kodi's order,
// then in the order Kodi lists broadcasts.
func (c *Client) NextBroadcast(ctx context.Context, label string) (time.Time, bool, error) {
	list, err := c.upcoming(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	for _, b := range list {
		if strings.EqualFold(b.Label, label) {
			return b.Start, true, nil
		}
	}
	return time.Time{}, false, nil
}

// upcoming returns the cached broadcast list, dropping entries that have
// already started. An empty cache is refetched.
func (c *Client) upcoming(ctx context.Context) ([]Broadcast, error) {
	now := c.now()

	c.mu.Lock()
	if len(c.broadcasts) > 0 {
		c.broadcasts = filterUpcoming(c.broadcasts, now)
		out := c.broadcasts
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	chs, err := c.channelIndex(ctx)
	if err != nil {
		return nil, err
	}
	var all []Broadcast
	for _, name := range chs.order {
		id := chs.ids[name]
		var res struct {
			Broadcasts []broadcast `json:"broadcasts"`
		}
		params := map[string]any{"channelid": id, "properties": []string{"starttime"}}
		if err := c.call(ctx, "PVR.GetBroadcasts", "gbrd", params, &res); err != nil {
			return nil, err
		}
		for _, b := range res.Broadcasts {
			start, err := time.ParseInLocation(StartTimeLayout, b.StartTime, c.loc)
			if err != nil {
				c.log.Debug("bad starttime", logx.String("label", b.Label), logx.String("starttime", b.StartTime))
				continue
			}
			all = append(all, Broadcast{Label: b.Label, ChannelID: id, Start: start})
		}
	}
	all = filterUpcoming(all, now)

	c.mu.Lock()
	c.broadcasts = all
	c.mu.Unlock()
	c.log.Debug("broadcasts loaded", logx.Int("upcoming", len(all)))
	return all, nil
}

func filterUpcoming(list []Broadcast, now time.Time) []Broadcast {
	var out []Broadcast
	for _, b := range list {
		if !b.Start.Before(now) {
			out = append(out, b)
		}
	}
	return out
}
