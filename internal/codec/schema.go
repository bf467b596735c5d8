package codec

// Known event names emitted by the protocol diamond. This table is the
// wire contract with the deployed contract and must be versioned
// alongside any change to its emitted events.
const (
	EvPositionOpened       = "PositionOpened"
	EvPositionModified     = "PositionModified"
	EvPositionClosed       = "PositionClosed"
	EvLiquidation          = "Liquidation"
	EvOrderPlaced          = "OrderPlaced"
	EvOrderExecuted        = "OrderExecuted"
	EvOrderCancelled       = "OrderCancelled"
	EvPricesUpdated        = "PricesUpdated"
	EvFundingRateUpdated   = "FundingRateUpdated"
	EvMarketCreated        = "MarketCreated"
	EvMarketEnabled        = "MarketEnabled"
	EvMarketDisabled       = "MarketDisabled"
	EvCollateralAdded      = "CollateralAdded"
	EvCollateralRemoved    = "CollateralRemoved"
	EvFeesUpdated          = "FeesUpdated"
	EvPriceFeedSet         = "PriceFeedSet"
	EvKeeperUpdated        = "KeeperUpdated"
	EvVaultCreated         = "VaultCreated"
	EvVaultDeposit         = "VaultDeposit"
	EvVaultWithdrawal      = "VaultWithdrawal"
	EvVaultFunded          = "VaultFunded"
	EvVaultDefunded        = "VaultDefunded"
	EvPoolInitialized      = "PoolInitialized"
	EvPoolSynced           = "PoolSynced"
	EvPoolReservesUpdated  = "PoolReservesUpdated"
	EvPaused               = "Paused"
	EvUnpaused             = "Unpaused"
	EvOwnershipTransferred = "OwnershipTransferred"
	EvRoleGranted          = "RoleGranted"
	EvRoleRevoked          = "RoleRevoked"
	EvDiamondCut           = "DiamondCut"
)

// eventsABI declares every known event with its exact parameter list.
// Indexed parameters are recovered from topics, the rest from data.
const eventsABI = `[
  {"type":"event","name":"PositionOpened","inputs":[
    {"name":"positionId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"marketId","type":"uint256","indexed":false},
    {"name":"isLong","type":"bool","indexed":false},
    {"name":"sizeUsd","type":"uint256","indexed":false},
    {"name":"leverage","type":"uint256","indexed":false},
    {"name":"entryPrice","type":"uint256","indexed":false},
    {"name":"collateralToken","type":"address","indexed":false},
    {"name":"collateralAmount","type":"uint256","indexed":false},
    {"name":"collateralUsd","type":"uint256","indexed":false}]},
  {"type":"event","name":"PositionModified","inputs":[
    {"name":"positionId","type":"uint256","indexed":true},
    {"name":"newSizeUsd","type":"uint256","indexed":false},
    {"name":"newCollateralAmount","type":"uint256","indexed":false},
    {"name":"newCollateralUsd","type":"uint256","indexed":false}]},
  {"type":"event","name":"PositionClosed","inputs":[
    {"name":"positionId","type":"uint256","indexed":true},
    {"name":"closeSizeUsd","type":"uint256","indexed":false},
    {"name":"exitPrice","type":"uint256","indexed":false},
    {"name":"realizedPnl","type":"int256","indexed":false},
    {"name":"isFullClose","type":"bool","indexed":false}]},
  {"type":"event","name":"Liquidation","inputs":[
    {"name":"positionId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"marketId","type":"uint256","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"penalty","type":"uint256","indexed":false},
    {"name":"keeper","type":"address","indexed":false}]},
  {"type":"event","name":"OrderPlaced","inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"marketId","type":"uint256","indexed":false},
    {"name":"orderType","type":"uint8","indexed":false},
    {"name":"isLong","type":"bool","indexed":false},
    {"name":"triggerPrice","type":"uint256","indexed":false},
    {"name":"sizeUsd","type":"uint256","indexed":false}]},
  {"type":"event","name":"OrderExecuted","inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"positionId","type":"uint256","indexed":false},
    {"name":"executionPrice","type":"uint256","indexed":false}]},
  {"type":"event","name":"OrderCancelled","inputs":[
    {"name":"orderId","type":"uint256","indexed":true}]},
  {"type":"event","name":"PricesUpdated","inputs":[
    {"name":"marketIds","type":"uint256[]","indexed":false},
    {"name":"prices","type":"uint256[]","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"FundingRateUpdated","inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"ratePerSecond","type":"int256","indexed":false}]},
  {"type":"event","name":"MarketCreated","inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"name","type":"string","indexed":false},
    {"name":"symbol","type":"string","indexed":false},
    {"name":"maxLeverage","type":"uint256","indexed":false}]},
  {"type":"event","name":"MarketEnabled","inputs":[
    {"name":"marketId","type":"uint256","indexed":true}]},
  {"type":"event","name":"MarketDisabled","inputs":[
    {"name":"marketId","type":"uint256","indexed":true}]},
  {"type":"event","name":"CollateralAdded","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"decimals","type":"uint8","indexed":false}]},
  {"type":"event","name":"CollateralRemoved","inputs":[
    {"name":"token","type":"address","indexed":true}]},
  {"type":"event","name":"FeesUpdated","inputs":[
    {"name":"takerFeeBps","type":"uint256","indexed":false},
    {"name":"makerFeeBps","type":"uint256","indexed":false},
    {"name":"liquidationFeeBps","type":"uint256","indexed":false},
    {"name":"insuranceFeeBps","type":"uint256","indexed":false}]},
  {"type":"event","name":"PriceFeedSet","inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"feedId","type":"bytes32","indexed":false}]},
  {"type":"event","name":"KeeperUpdated","inputs":[
    {"name":"keeper","type":"address","indexed":true},
    {"name":"allowed","type":"bool","indexed":false}]},
  {"type":"event","name":"VaultCreated","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"vault","type":"address","indexed":false}]},
  {"type":"event","name":"VaultDeposit","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"VaultWithdrawal","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"VaultFunded","inputs":[
    {"name":"token","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"VaultDefunded","inputs":[
    {"name":"token","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"PoolInitialized","inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"baseReserve","type":"uint256","indexed":false},
    {"name":"quoteReserve","type":"uint256","indexed":false},
    {"name":"oraclePrice","type":"uint256","indexed":false}]},
  {"type":"event","name":"PoolSynced","inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"baseReserve","type":"uint256","indexed":false},
    {"name":"quoteReserve","type":"uint256","indexed":false}]},
  {"type":"event","name":"PoolReservesUpdated","inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"baseReserve","type":"uint256","indexed":false},
    {"name":"quoteReserve","type":"uint256","indexed":false},
    {"name":"oraclePrice","type":"uint256","indexed":false}]},
  {"type":"event","name":"Paused","inputs":[
    {"name":"account","type":"address","indexed":false}]},
  {"type":"event","name":"Unpaused","inputs":[
    {"name":"account","type":"address","indexed":false}]},
  {"type":"event","name":"OwnershipTransferred","inputs":[
    {"name":"previousOwner","type":"address","indexed":true},
    {"name":"newOwner","type":"address","indexed":true}]},
  {"type":"event","name":"RoleGranted","inputs":[
    {"name":"role","type":"bytes32","indexed":true},
    {"name":"account","type":"address","indexed":true},
    {"name":"sender","type":"address","indexed":true}]},
  {"type":"event","name":"RoleRevoked","inputs":[
    {"name":"role","type":"bytes32","indexed":true},
    {"name":"account","type":"address","indexed":true},
    {"name":"sender","type":"address","indexed":true}]},
  {"type":"event","name":"DiamondCut","inputs":[
    {"name":"cut","type":"tuple[]","components":[
      {"name":"facetAddress","type":"address"},
      {"name":"action","type":"uint8"},
      {"name":"functionSelectors","type":"bytes4[]"}],"indexed":false},
    {"name":"init","type":"address","indexed":false},
    {"name":"data","type":"bytes","indexed":false}]}
]`
