package exchange

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// stream dials one endpoint and feeds decoded frames to fn until the
// context is done. Dial failures back off, read failures reconnect.
func (b *BinanceClient) stream(ctx context.Context, url string, fn func(frame map[string]interface{})) error {
	go func() {
		retry := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, _, err := b.wsDialer.Dial(url, nil)
			if err != nil {
				retry++
				if retry > 8 {
					retry = 8
				}
				time.Sleep(time.Duration(300*retry) * time.Millisecond)
				continue
			}
			retry = 0

			stopPing := make(chan struct{})
			go func() {
				t := time.NewTicker(3 * time.Minute)
				defer t.Stop()
				for {
					select {
					case <-stopPing:
						return
					case <-ctx.Done():
						return
					case <-t.C:
						_ = conn.WriteMessage(websocket.PongMessage, nil)
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					close(stopPing)
					_ = conn.Close()
					break
				}
				var frame map[string]interface{}
				if err := sonic.Unmarshal(msg, &frame); err == nil {
					fn(frame)
				}
			}

			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(1 * time.Second)
			}
		}
	}()
	return nil
}

// streamArr is like stream for endpoints whose frames are arrays of
// per-symbol objects.
func (b *BinanceClient) streamArr(ctx context.Context, url string, fn func(frame map[string]interface{})) error {
	go func() {
		retry := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, _, err := b.wsDialer.Dial(url, nil)
			if err != nil {
				retry++
				if retry > 8 {
					retry = 8
				}
				time.Sleep(time.Duration(300*retry) * time.Millisecond)
				continue
			}
			retry = 0

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					_ = conn.Close()
					break
				}
				var frames []map[string]interface{}
				if err := sonic.Unmarshal(msg, &frames); err == nil {
					for _, f := range frames {
						fn(f)
					}
					continue
				}
				var one map[string]interface{}
				if err := sonic.Unmarshal(msg, &one); err == nil {
					fn(one)
				}
			}

			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(1 * time.Second)
			}
		}
	}()
	return nil
}

func frameSymbol(frame map[string]interface{}) string {
	if s, ok := frame["s"].(string); ok {
		return s
	}
	if s, ok := frame["symbol"].(string); ok {
		return s
	}
	return ""
}

func (b *BinanceClient) BookStream(ctx context.Context, h StreamHandler) error {
	return b.stream(ctx, spotWS+"/!bookTicker", func(frame map[string]interface{}) {
		if sym := frameSymbol(frame); sym != "" {
			h(sym, frame)
		}
	})
}

func (b *BinanceClient) TickerStream(ctx context.Context, h StreamHandler) error {
	return b.streamArr(ctx, spotWS+"/!ticker@arr", func(frame map[string]interface{}) {
		if sym := frameSymbol(frame); sym != "" {
			h(sym, frame)
		}
	})
}

func (b *BinanceClient) MarkPriceStream(ctx context.Context, h StreamHandler) error {
	return b.streamArr(ctx, futuresWS+"/!markPrice@arr@1s", func(frame map[string]interface{}) {
		if sym := frameSymbol(frame); sym != "" {
			h(sym, frame)
		}
	})
}

func (b *BinanceClient) LiquidationStream(ctx context.Context, h StreamHandler) error {
	return b.stream(ctx, futuresWS+"/!forceOrder@arr", func(frame map[string]interface{}) {
		order, ok := frame["o"].(map[string]interface{})
		if !ok {
			return
		}
		if sym := frameSymbol(order); sym != "" {
			h(sym, order)
		}
	})
}

func (b *BinanceClient) UserDataStream(ctx context.Context, listenKey string, h StreamHandler) error {
	return b.stream(ctx, spotWS+"/"+listenKey, func(frame map[string]interface{}) {
		event, _ := frame["e"].(string)
		h(event, frame)
	})
}
