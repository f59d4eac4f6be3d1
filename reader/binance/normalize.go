package binance

import (
	"encoding/json"
	"strconv"
	"time"

	"candleflow/logger"
	"candleflow/models"

	"github.com/sirupsen/logrus"
)

// handleMessage decodes one combined-stream frame. Frames without both the
// stream name and the data envelope are subscription acks or control noise
// and are silently ignored.
func (r *TradeReader) handleMessage(raw []byte) {
	log := r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
		"operation": "normalize",
	})

	var env models.RawStreamMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		log.WithError(err).Warn("failed to decode stream envelope")
		return
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return
	}

	var agg models.RawAggTrade
	if err := json.Unmarshal(env.Data, &agg); err != nil {
		log.WithError(err).Warn("failed to decode aggregated trade")
		return
	}

	r.processAggTrade(agg)
}

// processAggTrade validates, deduplicates and publishes one aggregated trade.
func (r *TradeReader) processAggTrade(agg models.RawAggTrade) {
	log := r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
		"operation": "normalize",
		"symbol":    agg.Symbol,
	})

	if agg.Symbol == "" || agg.Price == "" || agg.Quantity == "" || agg.Timestamp == 0 || agg.TradeID == 0 {
		log.WithFields(logger.Fields{"trade_id": agg.TradeID}).Warn("incomplete trade data, dropping")
		return
	}

	if _, ok := r.symbolSet[agg.Symbol]; !ok {
		return
	}

	price, err := strconv.ParseFloat(agg.Price, 64)
	if err != nil {
		log.WithError(err).Warn("unparseable trade price, dropping")
		return
	}
	quantity, err := strconv.ParseFloat(agg.Quantity, 64)
	if err != nil {
		log.WithError(err).Warn("unparseable trade quantity, dropping")
		return
	}

	if r.dedup.Seen(agg.TradeID) {
		if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			log.WithFields(logger.Fields{"trade_id": agg.TradeID}).Debug("duplicate trade suppressed")
		}
		return
	}

	trade := models.Trade{
		Event:        "aggTrade",
		Symbol:       agg.Symbol,
		Price:        price,
		Quantity:     quantity,
		Timestamp:    agg.Timestamp,
		TradeID:      agg.TradeID,
		IsBuyerMaker: agg.IsBuyerMaker,
		Source:       "binance",
		ReceivedAt:   time.Now().UTC().UnixMilli(),
	}

	payload, err := json.Marshal(trade)
	if err != nil {
		log.WithError(err).Warn("failed to marshal trade")
		return
	}

	ev := models.TradeEvent{
		Topic:     models.TradeTopic(trade.Symbol),
		Symbol:    trade.Symbol,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	if r.channels.Trade.Publish(r.ctx, ev) {
		logger.IncrementTradeRead(len(payload))
		if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			logger.LogDataFlowEntry(log, "binance_ws", ev.Topic, 1, "trades")
		}
	} else if r.ctx.Err() == nil {
		log.WithFields(logger.Fields{"topic": ev.Topic}).Warn("trade topic full, dropping trade")
	}
}
