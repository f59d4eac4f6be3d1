package binance

import (
	"time"

	"candleflow/logger"
	"candleflow/models"

	binance "github.com/adshao/go-binance/v2"
)

// streamSDK streams aggregated trades through the exchange SDK's combined
// subscription instead of a hand-rolled websocket connection. Both modes feed
// the same normalize path.
func (r *TradeReader) streamSDK() {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
		"worker": "trade_stream_sdk",
	})

	reconnectDelay := time.Duration(r.config.Source.Binance.Trades.ReconnectDelaySec) * time.Second

	handler := func(event *binance.WsAggTradeEvent) {
		r.processAggTrade(models.RawAggTrade{
			EventType:    event.Event,
			EventTime:    event.Time,
			Symbol:       event.Symbol,
			Price:        event.Price,
			Quantity:     event.Quantity,
			TradeID:      event.AggTradeID,
			Timestamp:    event.TradeTime,
			IsBuyerMaker: event.IsBuyerMaker,
		})
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
			r.publishStatus(models.StatusFeedError)
		}
	}

	for {
		if r.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		doneC, stopC, err := binance.WsCombinedAggTradeServe(r.symbols, handler, errHandler)
		if err != nil {
			log.WithError(err).Error("failed to subscribe to aggregated trade stream")
			r.publishStatus(models.StatusFeedError)
		} else {
			log.Info("connected to trade stream")
			r.publishStatus(models.StatusFeedConnected)

			select {
			case <-r.ctx.Done():
				close(stopC)
				<-doneC
				log.Info("worker stopped due to context cancellation")
				return
			case <-doneC:
				// stream ended
			}
			r.publishStatus(models.StatusFeedDisconnected)
		}

		log.WithFields(logger.Fields{"reconnect_delay": reconnectDelay.Seconds()}).Warn("reconnecting to trade stream")
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-time.After(reconnectDelay):
		}
	}
}
