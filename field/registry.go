package field

import (
	"crypto/elliptic"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// Secp256k1 is the group order of secp256k1. It only fits secrets of up to 32 bytes.
	Secp256k1 = "secp256k1"
	// Deployment5500 is the 5500-bit prime shipped as the default field. It holds
	// the PKCS8 DER body of an RSA-1024 key.
	Deployment5500 = "keyshard-5500"

	customPrefix = "custom:"
)

const deployment5500Hex = "" +
	"e9174cfe7120dd42b94fc4b456d51a02d8df438c26eaf5185d3a07259bbc9226" +
	"3fffad3cedc14c504e7b7ed2b07ab6a18516c30e62f7add4eb92ff0202e4fb05" +
	"133e5f3d9f09b7d7cdd5ed458004a1bdc2092d5d300b3704eee5713cf44b3d3c" +
	"f7932219e436f65ea80cdfd96d72150bf37b5d34b4b390e3d17a2a6c72027e4b" +
	"bc8752f37f715c418fff831118314d9f7233e2788654585ce9c9f550eb34b483" +
	"84c6b7c1ae4b17492739de4bf630664b21d66f2b11368ee7be3fabafe48b376f" +
	"37cf78425d67aa699ed097dfbc831d9e52475013ea70ce7204e1534fcebf1e43" +
	"00e835d0e72102487dbb915e36749d9a7ef135b8e80d925689d36d0e25b1eb77" +
	"9068e5e7f9e60ac356855d233b8dc9ab5e53cd3b69edd85d82334b0b8e612e52" +
	"6d36949a15cefe4411d39a4db63d9e6bdd3d047ae721326d9f1951f2bfa0ed3f" +
	"763eb69f24e48ebab9cd15bf5060ec9764d01626dd9fd10a0d54c01a189ca40f" +
	"1c9f3330a9e7bb44f5a08c41ef5c717b92ebed31da63faa7b6999dbbd841a307" +
	"8c4d58d4c611a56af86964b64323e9dd4a416e48902117763060e9fd2d39c909" +
	"4dd6d1a4b8913df155024a3e2a1e56ad065c4d655bdcafa2e9d581507f558942" +
	"996a4e9141a99cb4c7f08a7145b76c58686c75c6926a6cc62ecd53a9cb553f13" +
	"09690e26ee14e46eb54346da5fde046f9a81dadf6b1f1a8948d70ca0a105ca6c" +
	"99a22e210dd8a45d0feb3409b72d0822b5f3346372cb268f177a867f67e4277c" +
	"88b565f72d872899d12034422c82c91c465af967d5fc1d7dde88c546c1fe4381" +
	"0637acba425d4a36c866f7580323097620bc1e85c1bf63c81dcb662f05ea794a" +
	"0045888564fa9c06240e09f8e9e0bce80f8510a85fd802ee80bc5747fa8560a8" +
	"e3a7a0cb79d989e65e57665c83c007d3aa8f09b2cde7683cc6425d34d57de3e6" +
	"8811c343ffac3f87c1f262a6ec8f177"

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Field)
)

// Register makes a field available by name. It panics on a duplicate name.
// The prime is trusted as given; only its size and parity are checked.
func Register(name string, p *big.Int) {
	if p == nil || p.Cmp(big.NewInt(2)) <= 0 || p.Bit(0) == 0 {
		panic("field: invalid prime for " + name)
	}
	f := &Field{name: name, p: new(big.Int).Set(p)}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic("field already registered: " + name)
	}
	registry[name] = f
}

// Lookup returns a registered field by name. Names of the form "custom:<hex>"
// are parsed directly so that generated primes can travel with a share set.
func Lookup(name string) (*Field, error) {
	if strings.HasPrefix(name, customPrefix) {
		p, ok := new(big.Int).SetString(strings.TrimPrefix(name, customPrefix), 16)
		if !ok {
			return nil, fmt.Errorf("%w: malformed custom prime", ErrUnknownField)
		}
		f, err := New(p)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// Names lists the registered field names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(Secp256k1, secp256k1.S256().Params().N)
	Register("p256", elliptic.P256().Params().N)
	Register("p384", elliptic.P384().Params().N)
	Register("p521", elliptic.P521().Params().N)

	p, ok := new(big.Int).SetString(deployment5500Hex, 16)
	if !ok {
		panic("field: bad deployment prime")
	}
	Register(Deployment5500, p)
}
