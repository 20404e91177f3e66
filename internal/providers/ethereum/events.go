package ethereum

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// logDecoder turns the fields of one contract event into the params of a ledger event
type logDecoder struct {
	event abi.Event
	kind  domain.EventKind
	// pairEvent marks events only AMM pairs emit. Logs with the same topic from other
	// contracts (ERC20 Transfer) are not pair events.
	pairEvent bool
	build     func(r *fieldReader) interface{}
}

var (
	typeAddress = mustType("address", nil)
	typeUint32  = mustType("uint32", nil)
	typeUint112 = mustType("uint112", nil)
	typeUint256 = mustType("uint256", nil)

	// Types.Wei / Types.Par: sign is true for positive values
	signedComponents = func(bits string) []abi.ArgumentMarshaling {
		return []abi.ArgumentMarshaling{
			{Name: "sign", Type: "bool"},
			{Name: "value", Type: "uint" + bits},
		}
	}

	// Events.BalanceUpdate
	typeBalanceUpdate = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "deltaWei", Type: "tuple", Components: signedComponents("256")},
		{Name: "newPar", Type: "tuple", Components: signedComponents("128")},
	})

	// Interest.Index
	typeIndex = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "borrow", Type: "uint96"},
		{Name: "supply", Type: "uint96"},
		{Name: "lastUpdate", Type: "uint32"},
	})

	// Decimal.D256, Monetary.Price and Monetary.Value all wrap a single uint256
	typeValue = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "value", Type: "uint256"},
	})
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

func arg(name string, t abi.Type) abi.Argument {
	return abi.Argument{Name: name, Type: t}
}

func indexed(name string, t abi.Type) abi.Argument {
	return abi.Argument{Name: name, Type: t, Indexed: true}
}

func newEvent(name string, inputs ...abi.Argument) abi.Event {
	return abi.NewEvent(name, name, false, inputs)
}

// decoders maps event topics to their decoders
var decoders = buildDecoders([]*logDecoder{
	// Margin protocol administration
	{
		event: newEvent("LogAddMarket", arg("marketId", typeUint256), arg("token", typeAddress)),
		kind:  domain.EventKindAddMarket,
		build: func(r *fieldReader) interface{} {
			return &domain.AddMarketParams{MarketID: r.marketID("marketId"), Token: r.address("token")}
		},
	},
	{
		event: newEvent("LogRemoveMarket", arg("marketId", typeUint256), arg("token", typeAddress)),
		kind:  domain.EventKindRemoveMarket,
		build: func(r *fieldReader) interface{} {
			return &domain.RemoveMarketParams{MarketID: r.marketID("marketId"), Token: r.address("token")}
		},
	},
	{
		event: newEvent("LogSetEarningsRate", arg("earningsRate", typeValue)),
		kind:  domain.EventKindSetEarningsRate,
		build: valueParams("earningsRate"),
	},
	{
		event: newEvent("LogSetLiquidationSpread", arg("liquidationSpread", typeValue)),
		kind:  domain.EventKindSetLiquidationSpread,
		build: valueParams("liquidationSpread"),
	},
	{
		event: newEvent("LogSetMarginRatio", arg("marginRatio", typeValue)),
		kind:  domain.EventKindSetMarginRatio,
		build: valueParams("marginRatio"),
	},
	{
		event: newEvent("LogSetMinBorrowedValue", arg("minBorrowedValue", typeValue)),
		kind:  domain.EventKindSetMinBorrowedValue,
		build: valueParams("minBorrowedValue"),
	},
	{
		event: newEvent("LogSetMarginPremium", arg("marketId", typeUint256), arg("marginPremium", typeValue)),
		kind:  domain.EventKindSetMarginPremium,
		build: marketValueParams("marginPremium"),
	},
	{
		event: newEvent("LogSetSpreadPremium", arg("marketId", typeUint256), arg("spreadPremium", typeValue)),
		kind:  domain.EventKindSetSpreadPremium,
		build: marketValueParams("spreadPremium"),
	},
	{
		// Later protocol versions renamed the spread premium setter
		event: newEvent("LogSetLiquidationSpreadPremium", arg("marketId", typeUint256), arg("liquidationSpreadPremium", typeValue)),
		kind:  domain.EventKindSetSpreadPremium,
		build: marketValueParams("liquidationSpreadPremium"),
	},

	// Margin protocol operations
	{
		event: newEvent("LogIndexUpdate", indexed("market", typeUint256), arg("index", typeIndex)),
		kind:  domain.EventKindIndexUpdate,
		build: func(r *fieldReader) interface{} {
			index := r.index("index")
			return &domain.IndexUpdateParams{
				MarketID:    r.marketID("market"),
				BorrowIndex: index.Borrow.String(),
				SupplyIndex: index.Supply.String(),
				LastUpdate:  uint64(index.LastUpdate),
			}
		},
	},
	{
		event: newEvent("LogOraclePrice", indexed("market", typeUint256), arg("price", typeValue)),
		kind:  domain.EventKindOraclePrice,
		build: func(r *fieldReader) interface{} {
			return &domain.OraclePriceParams{MarketID: r.marketID("market"), Price: r.value("price")}
		},
	},
	{
		event: newEvent("LogDeposit",
			indexed("accountOwner", typeAddress),
			arg("accountNumber", typeUint256),
			arg("market", typeUint256),
			arg("update", typeBalanceUpdate),
			arg("from", typeAddress)),
		kind: domain.EventKindDeposit,
		build: func(r *fieldReader) interface{} {
			return &domain.DepositParams{
				Account:  r.account("accountOwner", "accountNumber"),
				MarketID: r.marketID("market"),
				Update:   r.update("update"),
				From:     r.address("from"),
			}
		},
	},
	{
		event: newEvent("LogWithdraw",
			indexed("accountOwner", typeAddress),
			arg("accountNumber", typeUint256),
			arg("market", typeUint256),
			arg("update", typeBalanceUpdate),
			arg("to", typeAddress)),
		kind: domain.EventKindWithdraw,
		build: func(r *fieldReader) interface{} {
			return &domain.WithdrawParams{
				Account:  r.account("accountOwner", "accountNumber"),
				MarketID: r.marketID("market"),
				Update:   r.update("update"),
				To:       r.address("to"),
			}
		},
	},
	{
		event: newEvent("LogTransfer",
			indexed("accountOneOwner", typeAddress),
			arg("accountOneNumber", typeUint256),
			indexed("accountTwoOwner", typeAddress),
			arg("accountTwoNumber", typeUint256),
			arg("market", typeUint256),
			arg("updateOne", typeBalanceUpdate),
			arg("updateTwo", typeBalanceUpdate)),
		kind: domain.EventKindTransfer,
		build: func(r *fieldReader) interface{} {
			return &domain.TransferParams{
				AccountOne: r.account("accountOneOwner", "accountOneNumber"),
				AccountTwo: r.account("accountTwoOwner", "accountTwoNumber"),
				MarketID:   r.marketID("market"),
				UpdateOne:  r.update("updateOne"),
				UpdateTwo:  r.update("updateTwo"),
			}
		},
	},
	{
		event: newEvent("LogBuy", exchangeInputs()...),
		kind:  domain.EventKindBuy,
		build: exchangeParams,
	},
	{
		event: newEvent("LogSell", exchangeInputs()...),
		kind:  domain.EventKindSell,
		build: exchangeParams,
	},
	{
		event: newEvent("LogTrade",
			indexed("takerAccountOwner", typeAddress),
			arg("takerAccountNumber", typeUint256),
			indexed("makerAccountOwner", typeAddress),
			arg("makerAccountNumber", typeUint256),
			arg("inputMarket", typeUint256),
			arg("outputMarket", typeUint256),
			arg("takerInputUpdate", typeBalanceUpdate),
			arg("takerOutputUpdate", typeBalanceUpdate),
			arg("makerInputUpdate", typeBalanceUpdate),
			arg("makerOutputUpdate", typeBalanceUpdate),
			arg("autoTrader", typeAddress)),
		kind: domain.EventKindTrade,
		build: func(r *fieldReader) interface{} {
			return &domain.TradeParams{
				TakerAccount:      r.account("takerAccountOwner", "takerAccountNumber"),
				MakerAccount:      r.account("makerAccountOwner", "makerAccountNumber"),
				InputMarketID:     r.marketID("inputMarket"),
				OutputMarketID:    r.marketID("outputMarket"),
				TakerInputUpdate:  r.update("takerInputUpdate"),
				TakerOutputUpdate: r.update("takerOutputUpdate"),
				MakerInputUpdate:  r.update("makerInputUpdate"),
				MakerOutputUpdate: r.update("makerOutputUpdate"),
				AutoTrader:        r.address("autoTrader"),
			}
		},
	},
	{
		event: newEvent("LogLiquidate",
			indexed("solidAccountOwner", typeAddress),
			arg("solidAccountNumber", typeUint256),
			indexed("liquidAccountOwner", typeAddress),
			arg("liquidAccountNumber", typeUint256),
			arg("heldMarket", typeUint256),
			arg("owedMarket", typeUint256),
			arg("solidHeldUpdate", typeBalanceUpdate),
			arg("solidOwedUpdate", typeBalanceUpdate),
			arg("liquidHeldUpdate", typeBalanceUpdate),
			arg("liquidOwedUpdate", typeBalanceUpdate)),
		kind: domain.EventKindLiquidate,
		build: func(r *fieldReader) interface{} {
			return &domain.LiquidateParams{
				SolidAccount:     r.account("solidAccountOwner", "solidAccountNumber"),
				LiquidAccount:    r.account("liquidAccountOwner", "liquidAccountNumber"),
				HeldMarketID:     r.marketID("heldMarket"),
				OwedMarketID:     r.marketID("owedMarket"),
				SolidHeldUpdate:  r.update("solidHeldUpdate"),
				SolidOwedUpdate:  r.update("solidOwedUpdate"),
				LiquidHeldUpdate: r.update("liquidHeldUpdate"),
				LiquidOwedUpdate: r.update("liquidOwedUpdate"),
			}
		},
	},
	{
		event: newEvent("LogVaporize",
			indexed("solidAccountOwner", typeAddress),
			arg("solidAccountNumber", typeUint256),
			indexed("vaporAccountOwner", typeAddress),
			arg("vaporAccountNumber", typeUint256),
			arg("heldMarket", typeUint256),
			arg("owedMarket", typeUint256),
			arg("solidHeldUpdate", typeBalanceUpdate),
			arg("solidOwedUpdate", typeBalanceUpdate),
			arg("vaporOwedUpdate", typeBalanceUpdate)),
		kind: domain.EventKindVaporize,
		build: func(r *fieldReader) interface{} {
			return &domain.VaporizeParams{
				SolidAccount:    r.account("solidAccountOwner", "solidAccountNumber"),
				VaporAccount:    r.account("vaporAccountOwner", "vaporAccountNumber"),
				HeldMarketID:    r.marketID("heldMarket"),
				OwedMarketID:    r.marketID("owedMarket"),
				SolidHeldUpdate: r.update("solidHeldUpdate"),
				SolidOwedUpdate: r.update("solidOwedUpdate"),
				VaporOwedUpdate: r.update("vaporOwedUpdate"),
			}
		},
	},

	// Expiry
	{
		event: newEvent("ExpirySet",
			arg("owner", typeAddress),
			arg("number", typeUint256),
			arg("marketId", typeUint256),
			arg("time", typeUint32)),
		kind: domain.EventKindExpirySet,
		build: func(r *fieldReader) interface{} {
			return &domain.ExpirySetParams{
				Account:  r.account("owner", "number"),
				MarketID: r.marketID("marketId"),
				Time:     uint64(r.uint32("time")),
			}
		},
	},
	{
		event: newEvent("LogExpiryRampTimeSet", arg("expiryRampTime", typeUint256)),
		kind:  domain.EventKindExpiryRampTimeSet,
		build: func(r *fieldReader) interface{} {
			return &domain.ValueParams{Value: r.uint("expiryRampTime").String()}
		},
	},

	// Proxies and factories
	{
		event: newEvent("MarginPositionOpen",
			indexed("user", typeAddress),
			indexed("accountIndex", typeUint256),
			arg("inputToken", typeAddress),
			arg("outputToken", typeAddress),
			arg("depositToken", typeAddress),
			arg("inputBalanceUpdate", typeBalanceUpdate),
			arg("outputBalanceUpdate", typeBalanceUpdate),
			arg("marginDepositUpdate", typeBalanceUpdate)),
		kind: domain.EventKindMarginPositionOpen,
		build: func(r *fieldReader) interface{} {
			return &domain.MarginPositionOpenParams{
				Account:       r.account("user", "accountIndex"),
				InputToken:    r.address("inputToken"),
				OutputToken:   r.address("outputToken"),
				DepositToken:  r.address("depositToken"),
				InputUpdate:   r.update("inputBalanceUpdate"),
				OutputUpdate:  r.update("outputBalanceUpdate"),
				DepositUpdate: r.update("marginDepositUpdate"),
			}
		},
	},
	{
		event: newEvent("MarginPositionClose",
			indexed("user", typeAddress),
			indexed("accountIndex", typeUint256),
			arg("inputToken", typeAddress),
			arg("outputToken", typeAddress),
			arg("withdrawalToken", typeAddress),
			arg("inputBalanceUpdate", typeBalanceUpdate),
			arg("outputBalanceUpdate", typeBalanceUpdate),
			arg("marginWithdrawalUpdate", typeBalanceUpdate)),
		kind: domain.EventKindMarginPositionClose,
		build: func(r *fieldReader) interface{} {
			return &domain.MarginPositionCloseParams{
				Account:          r.account("user", "accountIndex"),
				InputToken:       r.address("inputToken"),
				OutputToken:      r.address("outputToken"),
				WithdrawalToken:  r.address("withdrawalToken"),
				InputUpdate:      r.update("inputBalanceUpdate"),
				OutputUpdate:     r.update("outputBalanceUpdate"),
				WithdrawalUpdate: r.update("marginWithdrawalUpdate"),
			}
		},
	},
	{
		event: newEvent("BorrowPositionOpen",
			indexed("borrower", typeAddress),
			indexed("borrowAccountNumber", typeUint256)),
		kind: domain.EventKindBorrowPositionOpen,
		build: func(r *fieldReader) interface{} {
			return &domain.BorrowPositionOpenParams{Account: r.account("borrower", "borrowAccountNumber")}
		},
	},
	{
		event: newEvent("VaultCreated", indexed("account", typeAddress), arg("vault", typeAddress)),
		kind:  domain.EventKindVaultCreated,
		build: func(r *fieldReader) interface{} {
			return &domain.VaultCreatedParams{Account: r.address("account"), Vault: r.address("vault")}
		},
	},

	// AMM
	{
		event: newEvent("PairCreated",
			indexed("token0", typeAddress),
			indexed("token1", typeAddress),
			arg("pair", typeAddress),
			arg("allPairsLength", typeUint256)),
		kind: domain.EventKindPairCreated,
		build: func(r *fieldReader) interface{} {
			return &domain.PairCreatedParams{Token0: r.address("token0"), Token1: r.address("token1"), Pair: r.address("pair")}
		},
	},
	{
		event:     newEvent("Transfer", indexed("from", typeAddress), indexed("to", typeAddress), arg("value", typeUint256)),
		kind:      domain.EventKindAmmTransfer,
		pairEvent: true,
		build: func(r *fieldReader) interface{} {
			return &domain.AmmTransferParams{From: r.address("from"), To: r.address("to"), Value: r.uint("value").String()}
		},
	},
	{
		event:     newEvent("Mint", indexed("sender", typeAddress), arg("amount0", typeUint256), arg("amount1", typeUint256)),
		kind:      domain.EventKindAmmMint,
		pairEvent: true,
		build: func(r *fieldReader) interface{} {
			return &domain.AmmMintParams{
				Sender:  r.address("sender"),
				Amount0: r.uint("amount0").String(),
				Amount1: r.uint("amount1").String(),
			}
		},
	},
	{
		event: newEvent("Burn",
			indexed("sender", typeAddress),
			arg("amount0", typeUint256),
			arg("amount1", typeUint256),
			indexed("to", typeAddress)),
		kind:      domain.EventKindAmmBurn,
		pairEvent: true,
		build: func(r *fieldReader) interface{} {
			return &domain.AmmBurnParams{
				Sender:  r.address("sender"),
				Amount0: r.uint("amount0").String(),
				Amount1: r.uint("amount1").String(),
				To:      r.address("to"),
			}
		},
	},
	{
		event: newEvent("Swap",
			indexed("sender", typeAddress),
			arg("amount0In", typeUint256),
			arg("amount1In", typeUint256),
			arg("amount0Out", typeUint256),
			arg("amount1Out", typeUint256),
			indexed("to", typeAddress)),
		kind:      domain.EventKindAmmSwap,
		pairEvent: true,
		build: func(r *fieldReader) interface{} {
			return &domain.AmmSwapParams{
				Sender:     r.address("sender"),
				Amount0In:  r.uint("amount0In").String(),
				Amount1In:  r.uint("amount1In").String(),
				Amount0Out: r.uint("amount0Out").String(),
				Amount1Out: r.uint("amount1Out").String(),
				To:         r.address("to"),
			}
		},
	},
	{
		event:     newEvent("Sync", arg("reserve0", typeUint112), arg("reserve1", typeUint112)),
		kind:      domain.EventKindAmmSync,
		pairEvent: true,
		build: func(r *fieldReader) interface{} {
			return &domain.AmmSyncParams{Reserve0: r.uint("reserve0").String(), Reserve1: r.uint("reserve1").String()}
		},
	},
})

func buildDecoders(list []*logDecoder) map[common.Hash]*logDecoder {
	byTopic := make(map[common.Hash]*logDecoder, len(list))
	for _, d := range list {
		byTopic[d.event.ID] = d
	}
	return byTopic
}

// Topics returns the signatures of every event the indexer decodes
func Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(decoders))
	for topic := range decoders {
		topics = append(topics, topic)
	}
	return topics
}

// IsPairEvent reports whether topic is the signature of an event only AMM pairs are decoded for
func IsPairEvent(topic common.Hash) bool {
	d, ok := decoders[topic]
	return ok && d.pairEvent
}

func exchangeInputs() []abi.Argument {
	return []abi.Argument{
		indexed("accountOwner", typeAddress),
		arg("accountNumber", typeUint256),
		arg("takerMarket", typeUint256),
		arg("makerMarket", typeUint256),
		arg("takerUpdate", typeBalanceUpdate),
		arg("makerUpdate", typeBalanceUpdate),
		arg("exchangeWrapper", typeAddress),
	}
}

func exchangeParams(r *fieldReader) interface{} {
	return &domain.ExchangeParams{
		Account:         r.account("accountOwner", "accountNumber"),
		TakerMarketID:   r.marketID("takerMarket"),
		MakerMarketID:   r.marketID("makerMarket"),
		TakerUpdate:     r.update("takerUpdate"),
		MakerUpdate:     r.update("makerUpdate"),
		ExchangeWrapper: r.address("exchangeWrapper"),
	}
}

func valueParams(name string) func(r *fieldReader) interface{} {
	return func(r *fieldReader) interface{} {
		return &domain.ValueParams{Value: r.value(name)}
	}
}

func marketValueParams(name string) func(r *fieldReader) interface{} {
	return func(r *fieldReader) interface{} {
		return &domain.MarketValueParams{MarketID: r.marketID("marketId"), Value: r.value(name)}
	}
}
