package domain

const (
	// Blockchain constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"

	// AMM_MINIMUM_LIQUIDITY is the raw amount of liquidity tokens a pair locks on its first mint
	AMM_MINIMUM_LIQUIDITY int64 = 1000

	// AMM_LIQUIDITY_DECIMALS is the precision of every pair's liquidity token
	AMM_LIQUIDITY_DECIMALS int32 = 18

	// SECONDS_PER_YEAR converts per-second interest rates to annual ones
	SECONDS_PER_YEAR int64 = 31536000

	// PROTOCOL_VALUE_DECIMALS is the precision of indices, rates, spreads and premiums emitted by the protocol
	PROTOCOL_VALUE_DECIMALS int32 = 18

	// ORACLE_PRICE_DECIMALS is the combined precision of oracle prices (price decimals + token decimals)
	ORACLE_PRICE_DECIMALS int32 = 36

	// USD_DECIMALS is the precision USD amounts are rounded to
	USD_DECIMALS int32 = 18
)
