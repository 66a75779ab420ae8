// Package navigation は画面遷移の通知を扱う。
// コアは遷移先のルートを通知するのみで、画面の描画はクライアントが行う。
package navigation

// Route は画面のルート。
type Route string

const (
	// RouteEntry はログイン画面。
	RouteEntry Route = "/"
	// RouteHome はタブのトップ（撮影画面）。
	RouteHome Route = "/(tabs)"
	// RouteResults は解析結果画面。
	RouteResults Route = "/(tabs)/results"
	// RouteRecipe はレシピ画面。
	RouteRecipe Route = "/recipe"
)

// Navigator は画面遷移を要求する。
type Navigator interface {
	Navigate(route Route)
}

// Discard は遷移要求を無視するNavigator。
type Discard struct{}

// Navigate は何もしない。
func (Discard) Navigate(Route) {}

// Func は関数をNavigatorとして使うアダプター。
type Func func(Route)

// Navigate はf(route)を呼び出す。
func (f Func) Navigate(route Route) { f(route) }
