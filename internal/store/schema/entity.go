package schema

import "sort"

// Entity is a ledger row addressable by kind and string id.
// The kind is the table name.
type Entity interface {
	TableName() string
	PrimaryKey() string
}

var factories = map[string]func() Entity{}

func register(factory func() Entity) {
	factories[factory().TableName()] = factory
}

func init() {
	register(func() Entity { return &Protocol{} })
	register(func() Entity { return &MarketRiskInfo{} })
	register(func() Entity { return &Token{} })
	register(func() Entity { return &Market{} })
	register(func() Entity { return &InterestIndex{} })
	register(func() Entity { return &InterestRate{} })
	register(func() Entity { return &TotalPar{} })
	register(func() Entity { return &OraclePrice{} })
	register(func() Entity { return &User{} })
	register(func() Entity { return &UserAlias{} })
	register(func() Entity { return &MarginAccount{} })
	register(func() Entity { return &MarginAccountTokenValue{} })
	register(func() Entity { return &MarginPosition{} })
	register(func() Entity { return &BorrowPosition{} })
	register(func() Entity { return &Liquidation{} })
	register(func() Entity { return &Vaporization{} })
	register(func() Entity { return &Transaction{} })
	register(func() Entity { return &AmmPair{} })
	register(func() Entity { return &AmmMint{} })
	register(func() Entity { return &AmmBurn{} })
	register(func() Entity { return &AmmTrade{} })
	register(func() Entity { return &AmmLiquidityPosition{} })
	register(func() Entity { return &WatchedContract{} })
}

// New returns an empty entity of the given kind
func New(kind string) (Entity, bool) {
	factory, ok := factories[kind]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Kinds returns every registered entity kind in lexical order
func Kinds() []string {
	kinds := make([]string, 0, len(factories))
	for kind := range factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Models returns an empty instance of every entity, plus the key-value table, for migrations
func Models() []interface{} {
	models := make([]interface{}, 0, len(factories)+1)
	for _, kind := range Kinds() {
		models = append(models, factories[kind]())
	}
	return append(models, &KeyValueStore{})
}
